package app

import (
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/exceptions"
	"github.com/eddyhq/eddy-backend/internal/ingest"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type Services struct {
	Ingest     ingest.Service
	Exceptions *exceptions.Service
}

func wireServices(db *gorm.DB, log *logger.Logger, r Repos) Services {
	log.Info("Wiring services...")
	return Services{
		Ingest: ingest.NewService(db, log, r.Events, r.Runs),
		Exceptions: exceptions.NewService(
			db, log, r.Exceptions, r.Resolutions, r.Identities, r.Edges, r.Rows,
		),
	}
}
