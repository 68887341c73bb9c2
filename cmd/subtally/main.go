package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/subtally/subtally/internal/auth"
	"github.com/subtally/subtally/internal/config"
	"github.com/subtally/subtally/internal/feed"
	"github.com/subtally/subtally/internal/http_api"
	"github.com/subtally/subtally/internal/notifier"
	"github.com/subtally/subtally/internal/rates"
	"github.com/subtally/subtally/internal/repository"
	"github.com/subtally/subtally/internal/store"
	"github.com/subtally/subtally/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "subtally",
		Usage: "Subtally is a subscription tracking service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.IntFlag{Name: "api-port", Aliases: []string{"a"}, Usage: "API port"},
			&cli.StringFlag{Name: "jwt-secret", Aliases: []string{"j"}, Usage: "Secret used to verify API tokens"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "Issue an API token for an identity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Usage: "Identity the token is issued for", Required: true},
					&cli.StringFlag{Name: "email", Usage: "Email carried in the token"},
					&cli.IntFlag{Name: "ttl", Usage: "Token lifetime in seconds"},
				},
				Action: func(c *cli.Context) error {
					return issueToken(c)
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("jwt-secret") {
		cfg.JWTSecret = c.String("jwt-secret")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize the change feed broker
	broker := feed.NewBroker(log)

	// Initialize database
	db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, broker, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	// Initialize per-session store manager
	manager := store.NewManager(db, broker, log)

	// Initialize exchange rate service if configured
	var rateService *rates.Service
	if cfg.RatesURL != "" {
		rateService = rates.NewService(cfg.RatesURL, cfg.BaseCurrency, log)
		rateService.StartPeriodicUpdate()
	}

	// Initialize reminder delivery channels
	var telegram notifier.TelegramSender
	if cfg.TelegramBotToken != "" {
		t, err := notifier.NewTelegramNotifier(cfg.TelegramBotToken, db, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notifier: %v", err)
		}
		telegram = t
	}
	var email notifier.EmailSender
	if cfg.SMTPHost != "" {
		email = notifier.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender, log)
	}

	// Start the renewal reminder sweep
	reminders := notifier.NewNotifier(db, telegram, email, cfg.InstanceID,
		time.Duration(cfg.ReminderInterval)*time.Second,
		time.Duration(cfg.ReminderWindow)*time.Hour, log)
	reminders.Start()

	// Initialize API server
	apiServer := http_api.NewHTTPServer(manager, db, rateService, []byte(cfg.JWTSecret), cfg.APIPort, log)
	go apiServer.Start()

	// Wait for termination
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down...")
	if err := apiServer.Shutdown(); err != nil {
		log.Error("API server shutdown: ", err)
	}
	reminders.Stop()
	if rateService != nil {
		rateService.Stop()
	}
	manager.Close()
	if err := db.Close(); err != nil {
		log.Error("Database close: ", err)
	}

	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	ttl := time.Duration(cfg.TokenTTL) * time.Second
	if c.IsSet("ttl") {
		ttl = time.Duration(c.Int("ttl")) * time.Second
	}

	ident := &auth.Identity{ID: c.String("user-id"), Email: c.String("email")}
	token, err := auth.IssueToken(ident, []byte(cfg.JWTSecret), ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %v", err)
	}

	fmt.Println(token)
	return nil
}
