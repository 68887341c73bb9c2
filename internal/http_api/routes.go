package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	api := s.router.Group("/api/v1", s.authRequired())

	api.GET("/subscriptions", s.listSubscriptions)
	api.POST("/subscriptions", s.createSubscription)
	api.PUT("/subscriptions/:id", s.updateSubscription)
	api.DELETE("/subscriptions/:id", s.deleteSubscription)
	api.POST("/subscriptions/:id/toggle", s.toggleSubscription)

	api.GET("/summary", s.summary)
	api.POST("/display/toggle", s.toggleDisplay)

	api.PUT("/profile", s.upsertProfile)
	api.DELETE("/session", s.logout)
}
