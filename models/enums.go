package models

import (
	"encoding/json"
	"errors"
)

type ReportKind string

const (
	ReportKindIntervention ReportKind = "intervention"
	ReportKindHaccp        ReportKind = "haccp"
	ReportKindMaintenance  ReportKind = "maintenance"
)

func (t ReportKind) IsValid() bool {
	switch t {
	case ReportKindIntervention, ReportKindHaccp, ReportKindMaintenance:
		return true
	}
	return false
}

// convert input to enum type
func (t *ReportKind) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("report kind must be string")
	}
	kind := ReportKind(str)
	if !kind.IsValid() {
		return errors.New("invalid report kind")
	}
	*t = kind
	return nil
}

type LifecycleState string

const (
	LifecycleStateDraft         LifecycleState = "draft"
	LifecycleStatePendingReview LifecycleState = "pending_review"
	LifecycleStateApproved      LifecycleState = "approved"
	LifecycleStateRejected      LifecycleState = "rejected"
)

// IsFinal reports whether finalizedAt is set in this state.
func (s LifecycleState) IsFinal() bool {
	return s == LifecycleStateApproved || s == LifecycleStateRejected
}

// IsTerminal is true only for approved; rejected can be reopened.
func (s LifecycleState) IsTerminal() bool {
	return s == LifecycleStateApproved
}

type SignerRole string

const (
	SignerRoleTechnician  SignerRole = "technician"
	SignerRoleCounterpart SignerRole = "counterpart"
)

func (r SignerRole) IsValid() bool {
	return r == SignerRoleTechnician || r == SignerRoleCounterpart
}

func (r *SignerRole) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("signer role must be string")
	}
	role := SignerRole(str)
	if !role.IsValid() {
		return errors.New("invalid signer role")
	}
	*r = role
	return nil
}

type AttachmentOrigin string

const (
	AttachmentOriginStaged    AttachmentOrigin = "staged"
	AttachmentOriginCommitted AttachmentOrigin = "committed"
)

// CheckValue is a tri-state check result. The zero value reads as unknown.
type CheckValue string

const (
	CheckTrue    CheckValue = "true"
	CheckFalse   CheckValue = "false"
	CheckUnknown CheckValue = "unknown"
)

func CheckValueOf(b bool) CheckValue {
	if b {
		return CheckTrue
	}
	return CheckFalse
}

// Normalize maps anything but true/false to unknown.
func (v CheckValue) Normalize() CheckValue {
	switch v {
	case CheckTrue, CheckFalse:
		return v
	}
	return CheckUnknown
}

func (v *CheckValue) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = CheckValueOf(t)
	case nil:
		*v = CheckUnknown
	case string:
		switch CheckValue(t) {
		case CheckTrue, CheckFalse, CheckUnknown:
			*v = CheckValue(t)
		default:
			return errors.New("invalid check value")
		}
	default:
		return errors.New("invalid check value")
	}
	return nil
}

type HistoryAction string

const (
	HistoryActionCreate  HistoryAction = "CREATE"
	HistoryActionEdit    HistoryAction = "EDIT"
	HistoryActionSubmit  HistoryAction = "SUBMIT"
	HistoryActionApprove HistoryAction = "APPROVE"
	HistoryActionReject  HistoryAction = "REJECT"
	HistoryActionReopen  HistoryAction = "REOPEN"
	HistoryActionDelete  HistoryAction = "DELETE"
	HistoryActionAttach  HistoryAction = "ATTACH"
	HistoryActionDetach  HistoryAction = "DETACH"
	HistoryActionSign    HistoryAction = "SIGN"
	HistoryActionReading HistoryAction = "READING"
)
