package registry

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

// File-shaped policy definitions. Durations are Go duration strings and
// weekdays are lowercase day names, matching the config conventions used
// elsewhere in the repo.
type policyFile struct {
	Roles           []roleDef `mapstructure:"roles"`
	DutyRoles       []dutyDef `mapstructure:"dutyRoles"`
	SeparationRules []ruleDef `mapstructure:"separationRules"`
}

type windowDef struct {
	Start    string   `mapstructure:"start"`
	End      string   `mapstructure:"end"`
	Timezone string   `mapstructure:"timezone"`
	Weekdays []string `mapstructure:"weekdays"`
}

type roleDef struct {
	ID                 string        `mapstructure:"id"`
	Name               string        `mapstructure:"name"`
	Description        string        `mapstructure:"description"`
	Permissions        []string      `mapstructure:"permissions"`
	ResourceScopes     []string      `mapstructure:"resourceScopes"`
	RequiresApproval   bool          `mapstructure:"requiresApproval"`
	ApproverRoles      []string      `mapstructure:"approverRoles"`
	MinimumApprovers   int           `mapstructure:"minimumApprovers"`
	MFARequired        bool          `mapstructure:"mfaRequired"`
	MFAMethods         []string      `mapstructure:"mfaMethods"`
	MFAValidityMinutes int           `mapstructure:"mfaValidityMinutes"`
	MaxSessionDuration time.Duration `mapstructure:"maxSessionDuration"`
	AllowedWindows     []windowDef   `mapstructure:"allowedWindows"`
	IPAllowlist        []string      `mapstructure:"ipAllowlist"`
	RiskLevel          string        `mapstructure:"riskLevel"`
	EmergencyAccess    bool          `mapstructure:"emergencyAccess"`
	EmergencyApprovers []string      `mapstructure:"emergencyApprovers"`
	EmergencyMFARetry  bool          `mapstructure:"emergencyMfaRetry"`
	Enabled            bool          `mapstructure:"enabled"`
}

type dutyDef struct {
	ID                string   `mapstructure:"id"`
	Name              string   `mapstructure:"name"`
	Category          string   `mapstructure:"category"`
	Permissions       []string `mapstructure:"permissions"`
	IncompatibleRoles []string `mapstructure:"incompatibleRoles"`
	SeparationLevel   string   `mapstructure:"separationLevel"`
}

type ruleDef struct {
	ID                    string   `mapstructure:"id"`
	Name                  string   `mapstructure:"name"`
	PrimaryCategory       string   `mapstructure:"primaryCategory"`
	ConflictingCategories []string `mapstructure:"conflictingCategories"`
	ConflictType          string   `mapstructure:"conflictType"`
	EnforcementLevel      string   `mapstructure:"enforcementLevel"`
	MinimumHours          int      `mapstructure:"minimumHours"`
	AllowedExceptions     []string `mapstructure:"allowedExceptions"`
	Enabled               bool     `mapstructure:"enabled"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadFile reads a YAML policy file and builds a validated registry.
func LoadFile(path string) (*Registry, error) {
	set, err := LoadPolicySet(path)
	if err != nil {
		return nil, err
	}
	return New(set)
}

// LoadPolicySet reads a YAML policy file into a PolicySet without building
// the registry. Reload callers use this to stage a new set first.
func LoadPolicySet(path string) (PolicySet, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return PolicySet{}, pamerrors.Configurationf("read policy file: %v", err)
	}

	var file policyFile
	if err := v.Unmarshal(&file); err != nil {
		return PolicySet{}, pamerrors.Configurationf("unmarshal policy file: %v", err)
	}
	return convert(file)
}

func convert(file policyFile) (PolicySet, error) {
	var set PolicySet

	for _, def := range file.Roles {
		windows := make([]models.TimeWindow, 0, len(def.AllowedWindows))
		for _, w := range def.AllowedWindows {
			days := make([]time.Weekday, 0, len(w.Weekdays))
			for _, name := range w.Weekdays {
				day, ok := weekdayNames[strings.ToLower(name)]
				if !ok {
					return PolicySet{}, pamerrors.Configurationf(
						"role %q window has unknown weekday %q", def.ID, name)
				}
				days = append(days, day)
			}
			windows = append(windows, models.TimeWindow{
				Start:    w.Start,
				End:      w.End,
				Timezone: w.Timezone,
				Weekdays: days,
			})
		}
		methods := make([]models.MFAMethod, 0, len(def.MFAMethods))
		for _, m := range def.MFAMethods {
			methods = append(methods, models.MFAMethod(m))
		}
		set.Roles = append(set.Roles, models.PrivilegedRole{
			ID:                 def.ID,
			Name:               def.Name,
			Description:        def.Description,
			Permissions:        def.Permissions,
			ResourceScopes:     def.ResourceScopes,
			RequiresApproval:   def.RequiresApproval,
			ApproverRoles:      def.ApproverRoles,
			MinimumApprovers:   def.MinimumApprovers,
			MFARequired:        def.MFARequired,
			MFAMethods:         methods,
			MFAValidityMinutes: def.MFAValidityMinutes,
			MaxSessionDuration: def.MaxSessionDuration,
			AllowedWindows:     windows,
			IPAllowlist:        def.IPAllowlist,
			RiskLevel:          models.RiskLevel(def.RiskLevel),
			EmergencyAccess:    def.EmergencyAccess,
			EmergencyApprovers: def.EmergencyApprovers,
			EmergencyMFARetry:  def.EmergencyMFARetry,
			Enabled:            def.Enabled,
		})
	}

	for _, def := range file.DutyRoles {
		set.DutyRoles = append(set.DutyRoles, models.DutyRole{
			ID:                def.ID,
			Name:              def.Name,
			Category:          def.Category,
			Permissions:       def.Permissions,
			IncompatibleRoles: def.IncompatibleRoles,
			SeparationLevel:   models.SeparationLevel(def.SeparationLevel),
		})
	}

	for _, def := range file.SeparationRules {
		exceptions := make([]models.ExceptionType, 0, len(def.AllowedExceptions))
		for _, ex := range def.AllowedExceptions {
			exceptions = append(exceptions, models.ExceptionType(ex))
		}
		set.SeparationRules = append(set.SeparationRules, models.SeparationRule{
			ID:                    def.ID,
			Name:                  def.Name,
			PrimaryCategory:       def.PrimaryCategory,
			ConflictingCategories: def.ConflictingCategories,
			ConflictType:          models.ConflictType(def.ConflictType),
			EnforcementLevel:      models.EnforcementLevel(def.EnforcementLevel),
			MinimumHours:          def.MinimumHours,
			AllowedExceptions:     exceptions,
			Enabled:               def.Enabled,
		})
	}

	return set, nil
}
