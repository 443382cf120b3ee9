package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is the central record a technician fills in during a site visit.
// Checks, readings, attachments and signatures are stored as JSON columns on the row.
type Report struct {
	ID                  string               `gorm:"primaryKey;size:36" json:"id"`
	Kind                ReportKind           `gorm:"size:20;not null" json:"kind"`
	LifecycleState      LifecycleState       `gorm:"size:20;index;not null" json:"lifecycle_state"`
	FinalizedAt         *time.Time           `json:"finalized_at"`
	Checks              Checks               `gorm:"type:json;serializer:json" json:"checks"`
	TemperatureReadings []TemperatureReading `gorm:"type:json;serializer:json" json:"temperature_readings"`
	Attachments         []Attachment         `gorm:"type:json;serializer:json" json:"attachments"`
	Signatures          Signatures           `gorm:"type:json;serializer:json" json:"signatures"`
	Narrative           Narrative            `gorm:"embedded;embeddedPrefix:narrative_" json:"narrative"`
	ChecklistData       map[string]any       `gorm:"type:json;serializer:json" json:"checklist_data"`
	RejectionReason     string               `gorm:"type:text" json:"rejection_reason,omitempty"`
	IsDeleted           bool                 `gorm:"index;not null;default:false" json:"is_deleted"`
	RemovedAt           *time.Time           `json:"removed_at,omitempty"`
	Version             int                  `gorm:"not null;default:1" json:"version"`
	CreatedBy           string               `gorm:"size:64" json:"created_by"`
	CreatedAt           time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReport struct {
	Kind      ReportKind `json:"kind" validate:"required"`
	Narrative Narrative  `json:"narrative"`
	CreatedBy string     `json:"-"`
	// IdempotencyKey, when set, makes a repeated create by the same technician return the first report.
	IdempotencyKey string `json:"-"`
}

type Narrative struct {
	Notes             string `gorm:"type:text" json:"notes"`
	Recommendations   string `gorm:"type:text" json:"recommendations"`
	CorrectiveActions string `gorm:"type:text" json:"corrective_actions"`
}

// Check is one named tri-state safety check.
type Check struct {
	Name  string     `json:"name"`
	Value CheckValue `json:"value"`
}

// Checks keeps insertion order; names are unique.
type Checks []Check

func (c Checks) Get(name string) (CheckValue, bool) {
	for _, check := range c {
		if check.Name == name {
			return check.Value.Normalize(), true
		}
	}
	return CheckUnknown, false
}

// Set returns a copy with name updated in place, or appended when new.
func (c Checks) Set(name string, value CheckValue) Checks {
	out := make(Checks, len(c), len(c)+1)
	copy(out, c)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value.Normalize()
			return out
		}
	}
	return append(out, Check{Name: name, Value: value.Normalize()})
}

// TemperatureReading is append-only; corrections are new readings with a later CapturedAt.
type TemperatureReading struct {
	ID          string          `json:"id"`
	EquipmentID string          `json:"equipment_id" validate:"required,max=64"`
	Value       decimal.Decimal `json:"value"`
	UnitCelsius bool            `json:"unit_celsius"`
	CapturedAt  time.Time       `json:"captured_at" validate:"required"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
}

// Celsius returns the reading in degrees Celsius; non-Celsius readings are Fahrenheit.
func (r TemperatureReading) Celsius() decimal.Decimal {
	if r.UnitCelsius {
		return r.Value
	}
	return r.Value.Sub(decimal.NewFromInt(32)).Mul(decimal.NewFromInt(5)).Div(decimal.NewFromInt(9))
}

// Attachment is a committed, durably stored piece of evidence.
type Attachment struct {
	Origin      AttachmentOrigin `json:"origin"`
	Reference   string           `json:"reference"`
	FileName    string           `json:"file_name"`
	MimeType    string           `json:"mime_type"`
	Size        int64            `json:"size"`
	CommittedAt time.Time        `json:"committed_at"`
}

// Media is locally selected content not yet uploaded.
type Media struct {
	FileName string
	MimeType string
	Data     []byte
}

type Signature struct {
	SignerRole SignerRole `json:"signer_role"`
	SignerID   string     `json:"signer_id,omitempty"`
	SignerName string     `json:"signer_name,omitempty"`
	Image      []byte     `json:"image"`
	MimeType   string     `json:"mime_type"`
	CapturedAt time.Time  `json:"captured_at"`
}

type Signatures struct {
	Technician  *Signature `json:"technician,omitempty"`
	Counterpart *Signature `json:"counterpart,omitempty"`
}

func (s Signatures) For(role SignerRole) *Signature {
	if role == SignerRoleTechnician {
		return s.Technician
	}
	return s.Counterpart
}

// DocumentHandle points at a rendered report document.
type DocumentHandle struct {
	Reference   string    `json:"reference"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	RenderedAt  time.Time `json:"rendered_at"`
}

func (r *Report) IsFinalized() bool {
	return r.FinalizedAt != nil
}

func (r *Report) HasTechnicianSignature() bool {
	sig := r.Signatures.For(SignerRoleTechnician)
	return sig != nil && len(sig.Image) > 0
}

// Clone deep-copies the report so callers can mutate the copy freely.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Checks = append(Checks(nil), r.Checks...)
	out.TemperatureReadings = append([]TemperatureReading(nil), r.TemperatureReadings...)
	out.Attachments = append([]Attachment(nil), r.Attachments...)
	out.Signatures = Signatures{
		Technician:  r.Signatures.Technician.clone(),
		Counterpart: r.Signatures.Counterpart.clone(),
	}
	if r.ChecklistData != nil {
		out.ChecklistData = make(map[string]any, len(r.ChecklistData))
		for k, v := range r.ChecklistData {
			out.ChecklistData[k] = v
		}
	}
	out.FinalizedAt = cloneTime(r.FinalizedAt)
	out.RemovedAt = cloneTime(r.RemovedAt)
	return &out
}

func (s *Signature) clone() *Signature {
	if s == nil {
		return nil
	}
	out := *s
	out.Image = append([]byte(nil), s.Image...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
