package domain

import (
	"github.com/eddyhq/eddy-backend/internal/domain/events"
	"github.com/eddyhq/eddy-backend/internal/domain/exceptions"
	"github.com/eddyhq/eddy-backend/internal/domain/graph"
	"github.com/eddyhq/eddy-backend/internal/domain/ledger"
	"github.com/eddyhq/eddy-backend/internal/domain/pipeline"
	"github.com/eddyhq/eddy-backend/internal/domain/policy"
)

type RawEvent = events.RawEvent
type EventKind = events.Kind

const (
	EventKindBankTransaction    = events.KindBankTransaction
	EventKindPayout             = events.KindPayout
	EventKindBalanceTransaction = events.KindBalanceTransaction
	EventKindOpsPayment         = events.KindOpsPayment
	EventKindOpsInvoice         = events.KindOpsInvoice
)

type Identity = graph.Identity
type IdentityKind = graph.IdentityKind
type IdentityLink = graph.IdentityLink
type IdentityEdge = graph.IdentityEdge
type EdgeKind = graph.EdgeKind

const (
	IdentitySettlement = graph.KindSettlement
	IdentityPayout     = graph.KindPayout
	IdentityCharge     = graph.KindCharge
	IdentityRefund     = graph.KindRefund
	IdentityFee        = graph.KindFee
	IdentityOpsPayment = graph.KindOpsPayment
	IdentityOpsInvoice = graph.KindOpsInvoice

	EdgeSettles    = graph.EdgeSettles
	EdgeComposedOf = graph.EdgeComposedOf
	EdgeAppliesTo  = graph.EdgeAppliesTo
)

type CashLedgerRow = ledger.CashLedgerRow
type Direction = ledger.Direction

const (
	DirectionInflow  = ledger.DirectionInflow
	DirectionOutflow = ledger.DirectionOutflow
)

type RuleVersion = policy.RuleVersion
type PolicyState = policy.State
type CDMRule = policy.CDMRule
type RuleProposal = policy.RuleProposal
type PolicyLabel = policy.Label
type RuleMatchKind = policy.MatchKind
type ProposalStatus = policy.ProposalStatus

const (
	LabelMustPay       = policy.LabelMustPay
	LabelCanDelay      = policy.LabelCanDelay
	LabelDiscretionary = policy.LabelDiscretionary
	LabelUncategorized = policy.LabelUncategorized

	CategoryUncategorized = policy.CategoryUncategorized

	MatchVendorExact       = policy.MatchVendorExact
	MatchCategoryCode      = policy.MatchCategoryCode
	MatchDescriptionRegex  = policy.MatchDescriptionRegex
	MatchAccountDefault    = policy.MatchAccountDefault
	MatchSourceKindDefault = policy.MatchSourceKindDefault

	ProposalDraft     = policy.ProposalDraft
	ProposalPublished = policy.ProposalPublished
	ProposalDiscarded = policy.ProposalDiscarded
)

type Exception = exceptions.Exception
type ExceptionKind = exceptions.Kind
type ExceptionStatus = exceptions.Status
type Resolution = exceptions.Resolution
type ResolutionAction = exceptions.Action
type ResolutionEffects = exceptions.ResolutionEffects

const (
	ExceptionARAmbiguous = exceptions.KindARAmbiguous
	ExceptionNoMatch     = exceptions.KindNoMatch
	ExceptionUnmapped    = exceptions.KindUnmapped
	ExceptionGhostAR     = exceptions.KindGhostAR
	ExceptionTiming      = exceptions.KindTiming
	ExceptionIntegrity   = exceptions.KindIntegrity

	ExceptionOpen      = exceptions.StatusOpen
	ExceptionResolved  = exceptions.StatusResolved
	ExceptionDismissed = exceptions.StatusDismissed

	ActionPickCandidate  = exceptions.ActionPickCandidate
	ActionManualLink     = exceptions.ActionManualLink
	ActionAssignCategory = exceptions.ActionAssignCategory
	ActionWriteOff       = exceptions.ActionWriteOff
	ActionDismiss        = exceptions.ActionDismiss
)

type PipelineRun = pipeline.PipelineRun
type PipelineTrigger = pipeline.Trigger
type PipelineRunStatus = pipeline.RunStatus

const (
	TriggerIngest      = pipeline.TriggerIngest
	TriggerManual      = pipeline.TriggerManual
	TriggerSchedule    = pipeline.TriggerSchedule
	TriggerRenormalize = pipeline.TriggerRenormalize

	RunQueued    = pipeline.RunQueued
	RunRunning   = pipeline.RunRunning
	RunSucceeded = pipeline.RunSucceeded
	RunFailed    = pipeline.RunFailed
)
