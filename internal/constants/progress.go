package constants

// Milestones on the combined 0-100 progress bar. A workflow never reports a
// value below one it already reported.
const (
	ProgressToolchainStart = 5
	ProgressToolchainReady = 15
	ProgressBoardURLs      = 20
	ProgressCoreStart      = 25
	ProgressCoreDone       = 35
	ProgressLibrariesStart = 40
	ProgressLibrariesDone  = 50
	ProgressInstallDone    = 100
)

const (
	ProgressDownload     = 55
	ProgressSelected     = 60
	ProgressConfigure    = 65
	ProgressConfigured   = 70
	ProgressCompileStart = 75
	ProgressCompileDone  = 85
	ProgressUploadStart  = 90
	ProgressUploadDone   = 100
)
