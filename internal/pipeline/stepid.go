package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepID names a registered step. The set is closed; Factory
// implementations switch over it exhaustively.
type StepID uint8

const (
	DetermineReleaseScope StepID = iota + 1
	UpdateSdkVersion
	ProcessUpdateSdkVersion
	SdkBuilds
	ProcessBuildSdks
	UpdateSdkDistributionVersion
	ReleaseBuilds
	ProcessReleaseBuilds
	ReleaseVerification
	FinalAndroidSDKBuild
	ProcessFinalSDKBuild
	UpdateChangeLog
	BuildDistributionRelease
	ProcessDistributionRelease
	PublishSDKs
	ProcessPublishSDKs
	SyncSDKToPublicResources
	ProcessSyncSDKToPublicResources
	AnnounceRelease

	stepIDEnd
)

var stepNames = [...]string{
	DetermineReleaseScope:           "DetermineReleaseScopeStep",
	UpdateSdkVersion:                "UpdateSdkVersionStep",
	ProcessUpdateSdkVersion:         "ProcessUpdateSdkVersionStep",
	SdkBuilds:                       "SdkBuildsStep",
	ProcessBuildSdks:                "ProcessBuildSdksStep",
	UpdateSdkDistributionVersion:    "UpdateSdkDistributionVersionStep",
	ReleaseBuilds:                   "ReleaseBuildsStep",
	ProcessReleaseBuilds:            "ProcessReleaseBuildsStep",
	ReleaseVerification:             "ReleaseVerificationStep",
	FinalAndroidSDKBuild:            "FinalAndroidSDKBuildStep",
	ProcessFinalSDKBuild:            "ProcessFinalSDKBuildStep",
	UpdateChangeLog:                 "UpdateChangeLogStep",
	BuildDistributionRelease:        "BuildDistributionReleaseStep",
	ProcessDistributionRelease:      "ProcessDistributionReleaseStep",
	PublishSDKs:                     "PublishSDKsStep",
	ProcessPublishSDKs:              "ProcessPublishSDKsStep",
	SyncSDKToPublicResources:        "SyncSDKToPublicResources",
	ProcessSyncSDKToPublicResources: "ProcessSyncSDKToPublicResourcesStep",
	AnnounceRelease:                 "AnnounceReleaseStep",
}

func (id StepID) String() string {
	if !id.IsValid() {
		return "unknown"
	}
	return stepNames[id]
}

func (id StepID) IsValid() bool {
	return id > 0 && id < stepIDEnd
}

func (id StepID) MarshalJSON() ([]byte, error) {
	if !id.IsValid() {
		return nil, fmt.Errorf("invalid step id: %d", id)
	}
	return json.Marshal(id.String())
}

func (id *StepID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, err := ParseStepID(raw)
	if err != nil {
		return err
	}
	*id = next
	return nil
}

// UnknownStepError is returned when a step name is not registered.
type UnknownStepError struct {
	Name string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step: %q", e.Name)
}

// ParseStepID resolves a registered step name.
func ParseStepID(name string) (StepID, error) {
	name = strings.TrimSpace(name)
	for id := DetermineReleaseScope; id < stepIDEnd; id++ {
		if stepNames[id] == name {
			return id, nil
		}
	}
	return 0, &UnknownStepError{Name: name}
}

// AllSteps lists every registered step in pipeline order.
func AllSteps() []StepID {
	out := make([]StepID, 0, int(stepIDEnd)-1)
	for id := DetermineReleaseScope; id < stepIDEnd; id++ {
		out = append(out, id)
	}
	return out
}
