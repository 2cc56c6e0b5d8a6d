package repos

import (
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos/events"
	"github.com/eddyhq/eddy-backend/internal/data/repos/exceptions"
	"github.com/eddyhq/eddy-backend/internal/data/repos/graph"
	"github.com/eddyhq/eddy-backend/internal/data/repos/ledger"
	"github.com/eddyhq/eddy-backend/internal/data/repos/pipeline"
	"github.com/eddyhq/eddy-backend/internal/data/repos/policy"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type RawEventRepo = events.RawEventRepo

type IdentityRepo = graph.IdentityRepo
type IdentityLinkRepo = graph.IdentityLinkRepo
type IdentityEdgeRepo = graph.IdentityEdgeRepo

type CashLedgerRowRepo = ledger.CashLedgerRowRepo
type LabelSum = ledger.LabelSum

type RuleVersionRepo = policy.RuleVersionRepo
type CDMRuleRepo = policy.CDMRuleRepo
type PolicyStateRepo = policy.PolicyStateRepo
type RuleProposalRepo = policy.RuleProposalRepo

type ExceptionRepo = exceptions.ExceptionRepo
type ResolutionRepo = exceptions.ResolutionRepo
type KindCount = exceptions.KindCount

type PipelineRunRepo = pipeline.PipelineRunRepo

func NewRawEventRepo(db *gorm.DB, baseLog *logger.Logger) RawEventRepo {
	return events.NewRawEventRepo(db, baseLog)
}

func NewIdentityRepo(db *gorm.DB, baseLog *logger.Logger) IdentityRepo {
	return graph.NewIdentityRepo(db, baseLog)
}
func NewIdentityLinkRepo(db *gorm.DB, baseLog *logger.Logger) IdentityLinkRepo {
	return graph.NewIdentityLinkRepo(db, baseLog)
}
func NewIdentityEdgeRepo(db *gorm.DB, baseLog *logger.Logger) IdentityEdgeRepo {
	return graph.NewIdentityEdgeRepo(db, baseLog)
}

func NewCashLedgerRowRepo(db *gorm.DB, baseLog *logger.Logger) CashLedgerRowRepo {
	return ledger.NewCashLedgerRowRepo(db, baseLog)
}

func NewRuleVersionRepo(db *gorm.DB, baseLog *logger.Logger) RuleVersionRepo {
	return policy.NewRuleVersionRepo(db, baseLog)
}
func NewCDMRuleRepo(db *gorm.DB, baseLog *logger.Logger) CDMRuleRepo {
	return policy.NewCDMRuleRepo(db, baseLog)
}
func NewPolicyStateRepo(db *gorm.DB, baseLog *logger.Logger) PolicyStateRepo {
	return policy.NewPolicyStateRepo(db, baseLog)
}
func NewRuleProposalRepo(db *gorm.DB, baseLog *logger.Logger) RuleProposalRepo {
	return policy.NewRuleProposalRepo(db, baseLog)
}

func NewExceptionRepo(db *gorm.DB, baseLog *logger.Logger) ExceptionRepo {
	return exceptions.NewExceptionRepo(db, baseLog)
}
func NewResolutionRepo(db *gorm.DB, baseLog *logger.Logger) ResolutionRepo {
	return exceptions.NewResolutionRepo(db, baseLog)
}

func NewPipelineRunRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRunRepo {
	return pipeline.NewPipelineRunRepo(db, baseLog)
}
