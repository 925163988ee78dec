package models

// Routable operation names. Modules claim these at capability-registration time.
const (
	OpSearchTrack    = "search.track"
	OpDownloadTrack  = "download.track"
	OpDownloadPause  = "download.pause"
	OpDownloadResume = "download.resume"
	OpDownloadCancel = "download.cancel"
	OpModuleStatus   = "module.status"
)

// Params is the discriminated parameter set for a routable operation.
// Each operation has exactly one parameter struct; handlers receive the
// concrete type and assert it at the top of the handler.
type Params interface {
	Operation() string
}

// SearchTrackParams are the parameters for the search.track operation.
type SearchTrackParams struct {
	Query      string
	MaxResults int
}

func (SearchTrackParams) Operation() string { return OpSearchTrack }

// DownloadTrackParams are the parameters for the download.track operation.
type DownloadTrackParams struct {
	TrackRef      string
	SourceUser    string
	SourcePath    string
	FileSizeBytes int64
	Quality       string
	Priority      int
}

func (DownloadTrackParams) Operation() string { return OpDownloadTrack }

// PauseDownloadParams are the parameters for the download.pause operation.
type PauseDownloadParams struct {
	DownloadID string
}

func (PauseDownloadParams) Operation() string { return OpDownloadPause }

// ResumeDownloadParams are the parameters for the download.resume operation.
type ResumeDownloadParams struct {
	DownloadID string
}

func (ResumeDownloadParams) Operation() string { return OpDownloadResume }

// CancelDownloadParams are the parameters for the download.cancel operation.
type CancelDownloadParams struct {
	DownloadID string
}

func (CancelDownloadParams) Operation() string { return OpDownloadCancel }

// ModuleStatusParams are the (empty) parameters for the module.status operation.
type ModuleStatusParams struct{}

func (ModuleStatusParams) Operation() string { return OpModuleStatus }
