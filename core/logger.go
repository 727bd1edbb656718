package core

type (
	// Logger is any service that can record app events.
	// args may hold errors, maps of extra data and at most one Actor (the acting user).
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Actor identifies who performed an operation, as told by the bearer token.
	Actor struct {
		ID       string `json:"id"`
		Username string `json:"username,omitempty"`
		Email    string `json:"email,omitempty"`
	}
)

// SystemActor is used for operations started from the admin CLI.
var SystemActor = Actor{ID: "system", Username: "admin-cli"}
