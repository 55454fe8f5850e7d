package app

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/gdoper/internal/app.Version=v0.3.0" ./cmd/gdoper
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)
