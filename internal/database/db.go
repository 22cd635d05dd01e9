package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/safestrip/safestrip/internal/config"
)

// DB is the global database instance
var DB *gorm.DB

// openAlertIndexSQL backs the at-most-one-OPEN-alert invariant. Both
// PostgreSQL and SQLite support partial unique indexes with this syntax.
const openAlertIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_open_pair ON alerts (outlet_id, rule_id) WHERE status = 'OPEN'`

// Open opens a gorm connection. DSNs starting with sqlite:// use SQLite,
// everything else is treated as a PostgreSQL DSN.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Connect establishes the global database connection
func Connect(dsn string, logLevel logger.LogLevel) error {
	db, err := Open(dsn, logLevel)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// ParseLogLevel maps a config string to a gorm log level.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Models lists every table the service owns, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&Workspace{},
		&Device{},
		&Outlet{},
		&Sensor{},
		&SensorReading{},
		&AlertRule{},
		&Alert{},
		&BreachState{},
		&SafetyCheck{},
		&SafetyCheckItem{},
	}
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := db.Exec(openAlertIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create open alert index: %w", err)
	}
	return nil
}

// InitializeDefaults creates the alert rules declared in the rules file when
// no rule with the same name exists yet. Returns the number created.
func InitializeDefaults(db *gorm.DB, seeds []config.RuleSeed, log *zap.Logger) (int, error) {
	created := 0
	for _, seed := range seeds {
		sensorType, ok := ParseSensorType(seed.SensorType)
		if !ok {
			return created, fmt.Errorf("rule %q: unknown sensor_type %q", seed.Name, seed.SensorType)
		}
		comparator, ok := ParseComparator(seed.Comparator)
		if !ok {
			return created, fmt.Errorf("rule %q: unknown comparator %q", seed.Name, seed.Comparator)
		}
		severity := SeverityWarning
		if seed.Severity != "" {
			if severity, ok = ParseSeverity(seed.Severity); !ok {
				return created, fmt.Errorf("rule %q: unknown severity %q", seed.Name, seed.Severity)
			}
		}

		var count int64
		if err := db.Model(&AlertRule{}).Where("name = ?", seed.Name).Count(&count).Error; err != nil {
			return created, err
		}
		if count > 0 {
			continue
		}

		rule := &AlertRule{
			Name:           seed.Name,
			SensorType:     sensorType,
			Comparator:     comparator,
			ThresholdValue: seed.Threshold,
			Severity:       severity,
			Enabled:        seed.IsEnabled(),
		}
		if seed.DurationSeconds > 0 {
			d := seed.DurationSeconds
			rule.DurationSeconds = &d
		}
		if err := db.Create(rule).Error; err != nil {
			return created, fmt.Errorf("failed to create rule %q: %w", seed.Name, err)
		}
		created++
		log.Info("Created default alert rule", zap.String("rule", rule.Name), zap.String("sensor_type", string(rule.SensorType)))
	}
	return created, nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
