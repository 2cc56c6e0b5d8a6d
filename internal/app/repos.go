package app

import (
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type Repos struct {
	Events      repos.RawEventRepo
	Identities  repos.IdentityRepo
	Links       repos.IdentityLinkRepo
	Edges       repos.IdentityEdgeRepo
	Rows        repos.CashLedgerRowRepo
	Versions    repos.RuleVersionRepo
	Rules       repos.CDMRuleRepo
	State       repos.PolicyStateRepo
	Proposals   repos.RuleProposalRepo
	Exceptions  repos.ExceptionRepo
	Resolutions repos.ResolutionRepo
	Runs        repos.PipelineRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Events:      repos.NewRawEventRepo(db, log),
		Identities:  repos.NewIdentityRepo(db, log),
		Links:       repos.NewIdentityLinkRepo(db, log),
		Edges:       repos.NewIdentityEdgeRepo(db, log),
		Rows:        repos.NewCashLedgerRowRepo(db, log),
		Versions:    repos.NewRuleVersionRepo(db, log),
		Rules:       repos.NewCDMRuleRepo(db, log),
		State:       repos.NewPolicyStateRepo(db, log),
		Proposals:   repos.NewRuleProposalRepo(db, log),
		Exceptions:  repos.NewExceptionRepo(db, log),
		Resolutions: repos.NewResolutionRepo(db, log),
		Runs:        repos.NewPipelineRunRepo(db, log),
	}
}
