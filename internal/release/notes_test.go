package release

import (
	"context"
	"strings"
	"testing"

	"relpipe/internal/shell"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

func TestParseSizeRows(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *Size
		wantErr bool
	}{
		{
			name: "string numbers",
			in:   `[{"download_size": "1048576", "install_size": "2097152"}]`,
			want: &Size{InstallBytes: 2097152, DownloadBytes: 1048576},
		},
		{
			name: "plain numbers",
			in:   `[{"download_size": 10, "install_size": 20}]`,
			want: &Size{InstallBytes: 20, DownloadBytes: 10},
		},
		{name: "no rows", in: `[]`},
		{name: "no output", in: "  \n"},
		{name: "garbage", in: "Waiting on bqjob", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSizeRows([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSizeRows() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("parseSizeRows() = %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("parseSizeRows() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBigQuerySizes(t *testing.T) {
	fake := shell.NewFake().On("bq query", `[{"download_size": "5", "install_size": "7"}]`)
	sizes := NewBigQuerySizes(fake)

	got, err := sizes.SDKSize(context.Background(), "android", "release/1.20.x", "abcdef0123")
	if err != nil {
		t.Fatalf("SDKSize() error = %v", err)
	}
	if got == nil || got.InstallBytes != 7 || got.DownloadBytes != 5 {
		t.Fatalf("SDKSize() = %+v", got)
	}
	line := fake.Lines()[0]
	for _, want := range []string{"--project_id=everybodysaydance", `app_size.platform="android"`, `commit_sha="abcdef0123"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("command %q missing %q", line, want)
		}
	}
}

func TestReleaseNotes(t *testing.T) {
	h := newHarness(t, false)
	var lookups []string
	h.env.Sizes = SizeLookupFunc(func(_ context.Context, platform, branch, commit string) (*Size, error) {
		lookups = append(lookups, platform+"@"+branch+"#"+commit)
		if platform == "ios" {
			return nil, nil
		}
		return &Size{InstallBytes: 3, DownloadBytes: 2}, nil
	})
	android := sdkBuild("1.20.0", rcBranch, "0123456789abcdef")
	android.PipelineID = "55"
	binaries := map[string]state.BinaryBuild{
		KeySampleAndroid: {HTMLURL: "https://dl.test/android"},
		KeySampleIOS:     {HTMLURL: "https://dl.test/ios"},
	}

	got := h.env.releaseNotes(context.Background(), "no anchors here", version.MustParse("1.20.0"),
		android, sdkBuild("1.20.0", rcBranch, "i1"), binaries)

	want := "## *Public*\nNo notable changes recorded." +
		"\n\n## *Internal*" +
		"\n### SDKs" +
		"\n- **Android**:" +
		"\n\t- Build:" +
		"\n\t\t- Branch: release/1.20.x" +
		"\n\t\t- Commit: 0123456789abcdef" +
		"\n\t\t- Job: https://ci.test/cp/pipelines/p/55" +
		"\n\t- Size:" +
		"\n\t\t- Install: 3 bytes" +
		"\n\t\t- Download: 2 bytes" +
		"\n\t\t- Report: https://looker.sc-corp.net/dashboards/3515?App+Name=camerakit&App+Platform=android&Variant=release&Commit+Sha=0123456789" +
		"\n- **iOS**:" +
		"\n\t- Build:" +
		"\n\t\t- Branch: release/1.20.x" +
		"\n\t\t- Commit: i1" +
		"\n\t\t- Job: https://ci.test/cp/pipelines/p/" +
		"\n### Samples" +
		"\n- **Android**:" +
		"\n\t- Download: https://dl.test/android" +
		"\n- **iOS**:" +
		"\n\t- Download: https://dl.test/ios"
	if got != want {
		t.Fatalf("releaseNotes() =\n%s\nwant\n%s", got, want)
	}
	if len(lookups) != 2 || lookups[0] != "android@release/1.20.x#0123456789" {
		t.Fatalf("lookups = %v", lookups)
	}
}

func TestBuildName(t *testing.T) {
	h := newHarness(t, false)
	got, err := h.env.buildName(state.ScopePatch, version.MustParse("1.19.1"))
	if err != nil || got != "42_patch_1.19.1" {
		t.Fatalf("buildName() = %q, %v", got, err)
	}
	h.env.Settings.BuildNumber = ""
	if _, err := h.env.buildName(state.ScopePatch, version.MustParse("1.19.1")); err == nil {
		t.Fatal("buildName() error = nil without a build number")
	}
}

func TestReleaseCandidateMessage(t *testing.T) {
	dist := state.BinaryBuild{
		Build:   state.Build{Version: version.MustParse("1.20.0"), BuildNumber: "31", PipelineID: "9", BuildHost: "ci.test"},
		HTMLURL: "https://console.test/dist.zip",
	}
	got := releaseCandidateMessage(version.MustParse("1.20.0"), map[string]state.BinaryBuild{KeyDistributionBuild: dist}, "https://ci.test/p/1")
	want := "Release candidate builds for 1.20.0 are ready for testing:\n" +
		"h3. SDK distribution build:\nVersion 1.20.0 (31):\nhttps://console.test/dist.zip\nbuilt by https://ci.test/cp/pipelines/p/9\n" +
		"\nh6. Generated in: https://ci.test/p/1"
	if got != want {
		t.Fatalf("releaseCandidateMessage() =\n%s\nwant\n%s", got, want)
	}
}
