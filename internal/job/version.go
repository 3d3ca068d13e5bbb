package job

// Version is the release version, set at build time with
// -ldflags "-X github.com/ajitpratap0/xetra/internal/job.Version=...".
var Version = "0.1.0"
