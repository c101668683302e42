package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/config"
	"github.com/smallbiznis/tumblebus/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if UsesSQLMigrations(cfg.DBType) && !cfg.DBAutoMigrate {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("sql migrations applied")
		} else {
			if err := AutoMigrate(conn); err != nil {
				return err
			}
			log.Info("schema auto-migrated", zap.String("db_type", cfg.DBType))
		}

		if cfg.SeedDemo {
			n, err := seed.EnsureDemoEnrollments(conn)
			if err != nil {
				return err
			}
			log.Info("demo data ready", zap.Int("created", n))
		}
		return nil
	}),
)
