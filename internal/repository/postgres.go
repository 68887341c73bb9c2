package repository

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

type PostgresDB struct {
	logger    *logger.Logger
	publisher models.ChangePublisher

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, publisher models.ChangePublisher, logger *logger.Logger) (models.Repository, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Use standard logger
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond, // Log queries slower than this
			LogLevel:                  gormLogger.Warn,        // Only log warnings or errors
			IgnoreRecordNotFoundError: true,                   // Suppress "record not found" errors
			Colorful:                  true,                   // Enable colorful logs
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	if err := db.AutoMigrate(&models.Subscription{}, &models.NotificationProfile{}, &models.AppLock{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, publisher: publisher, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) FetchAll(ownerID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := db.Conn.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %s", err)
	}

	return subs, nil
}

// Insert assigns the identifier and stores the subscription. The change
// event is published only after the row is committed.
func (db *PostgresDB) Insert(sub *models.Subscription) (*models.Subscription, error) {
	sub.ID = uuid.NewString()
	if err := db.Conn.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %s", err)
	}

	db.publish(models.InsertEvent(sub))
	return sub, nil
}

func (db *PostgresDB) Update(id, ownerID string, fields map[string]interface{}) (*models.Subscription, error) {
	result := db.Conn.Model(&models.Subscription{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(fields)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update subscription: %s", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotFound
	}

	// Re-read the full row so the feed carries the complete new image.
	var sub models.Subscription
	if err := db.Conn.Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, fmt.Errorf("failed to read back subscription: %s", err)
	}

	db.publish(models.UpdateEvent(&sub))
	return &sub, nil
}

func (db *PostgresDB) Delete(id, ownerID string) error {
	result := db.Conn.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.Subscription{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %s", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}

	db.publish(models.DeleteEvent(ownerID, id))
	return nil
}

func (db *PostgresDB) GetNotificationProfile(ownerID string) (*models.NotificationProfile, error) {
	var profile models.NotificationProfile
	if err := db.Conn.Where("owner_id = ?", ownerID).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification profile: %s", err)
	}

	return &profile, nil
}

func (db *PostgresDB) UpsertNotificationProfile(profile *models.NotificationProfile) error {
	if err := db.Conn.Save(profile).Error; err != nil {
		return fmt.Errorf("failed to upsert notification profile: %s", err)
	}
	return nil
}

func (db *PostgresDB) SetTelegramChatID(username, chatID string) error {
	if err := db.Conn.Model(&models.NotificationProfile{}).Where("telegram_username = ?", username).Update("telegram_chat_id", chatID).Error; err != nil {
		return fmt.Errorf("failed to set telegram chat ID: %s", err)
	}
	return nil
}

func (db *PostgresDB) GetProfileByTelegramUsername(username string) (*models.NotificationProfile, error) {
	var profile models.NotificationProfile
	if err := db.Conn.Where("telegram_username = ?", username).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile by telegram username: %s", err)
	}

	return &profile, nil
}

func (db *PostgresDB) ListDueReminders(now, until int64) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := db.Conn.
		Where("active = ?", true).
		Where("next_billing_at > ? AND next_billing_at <= ?", now, until).
		Where("reminded_for < next_billing_at").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %s", err)
	}

	return subs, nil
}

func (db *PostgresDB) MarkReminded(id string, billingAt int64) error {
	if err := db.Conn.Model(&models.Subscription{}).Where("id = ?", id).Update("reminded_for", billingAt).Error; err != nil {
		return fmt.Errorf("failed to mark subscription reminded: %s", err)
	}
	return nil
}

// AcquireLock takes the named app lock unless another instance holds one
// that has not expired yet.
func (db *PostgresDB) AcquireLock(name, instanceID string, ttlSeconds int64) (bool, error) {
	now := time.Now().Unix()
	lock := models.AppLock{
		LockName:   name,
		InstanceID: instanceID,
		AcquiredAt: now,
		ExpiresAt:  now + ttlSeconds,
	}

	err := db.Conn.Transaction(func(tx *gorm.DB) error {
		var existing models.AppLock
		err := tx.Where("lock_name = ?", name).First(&existing).Error
		if err == nil {
			if existing.ExpiresAt > now && existing.InstanceID != instanceID {
				return gorm.ErrDuplicatedKey
			}
			return tx.Model(&models.AppLock{}).Where("lock_name = ?", name).
				Updates(map[string]interface{}{
					"instance_id": instanceID,
					"acquired_at": now,
					"expires_at":  now + ttlSeconds,
				}).Error
		}
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&lock).Error
		}
		return err
	})
	if err == gorm.ErrDuplicatedKey {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %s", err)
	}
	return true, nil
}

func (db *PostgresDB) ReleaseLock(name, instanceID string) error {
	if err := db.Conn.Where("lock_name = ? AND instance_id = ?", name, instanceID).Delete(&models.AppLock{}).Error; err != nil {
		return fmt.Errorf("failed to release lock: %s", err)
	}
	return nil
}

func (db *PostgresDB) publish(event models.ChangeEvent) {
	if db.publisher == nil {
		return
	}
	db.publisher.Publish(event)
}
