package release

import "relpipe/internal/pipeline"

// Catalog returns the factory for the Camera Kit release flow's steps.
func Catalog(env *Env) pipeline.Factory {
	return func(id pipeline.StepID) (pipeline.Step, error) {
		switch id {
		case pipeline.DetermineReleaseScope:
			return &determineReleaseScope{env: env}, nil
		case pipeline.UpdateSdkVersion:
			return &updateSdkVersion{env: env}, nil
		case pipeline.ProcessUpdateSdkVersion:
			return &processUpdateSdkVersion{env: env}, nil
		case pipeline.SdkBuilds:
			return &sdkBuilds{env: env}, nil
		case pipeline.ProcessBuildSdks:
			return &processBuildSdks{env: env}, nil
		case pipeline.UpdateSdkDistributionVersion:
			return &updateSdkDistributionVersion{env: env}, nil
		case pipeline.ReleaseBuilds:
			return &releaseBuilds{env: env}, nil
		case pipeline.ProcessReleaseBuilds:
			return &processReleaseBuilds{env: env}, nil
		case pipeline.ReleaseVerification:
			return &releaseVerification{env: env}, nil
		case pipeline.FinalAndroidSDKBuild:
			return &finalAndroidSDKBuild{env: env}, nil
		case pipeline.ProcessFinalSDKBuild:
			return &processFinalSDKBuild{env: env}, nil
		case pipeline.UpdateChangeLog:
			return &updateChangeLog{env: env}, nil
		case pipeline.BuildDistributionRelease:
			return &buildDistributionRelease{env: env}, nil
		case pipeline.ProcessDistributionRelease:
			return &processDistributionRelease{env: env}, nil
		case pipeline.PublishSDKs:
			return &publishSDKs{env: env}, nil
		case pipeline.ProcessPublishSDKs:
			return &processPublishSDKs{env: env}, nil
		case pipeline.SyncSDKToPublicResources:
			return &syncSDKToPublicResources{env: env}, nil
		case pipeline.ProcessSyncSDKToPublicResources:
			return &processSyncSDKToPublicResources{env: env}, nil
		case pipeline.AnnounceRelease:
			return &announceRelease{env: env}, nil
		default:
			return nil, &pipeline.UnknownStepError{Name: id.String()}
		}
	}
}
