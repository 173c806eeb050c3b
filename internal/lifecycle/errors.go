package lifecycle

import "errors"

// Engine errors.
var (
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrPolicyNotFound      = errors.New("sla policy not found")
	ErrRemediationNotFound = errors.New("remediation step not found")
	ErrInvalidStatus       = errors.New("invalid incident status")
	ErrInvalidSeverity     = errors.New("invalid incident severity")
	ErrValidation          = errors.New("missing required incident fields")
	ErrIncidentArchived    = errors.New("incident is archived")
)
