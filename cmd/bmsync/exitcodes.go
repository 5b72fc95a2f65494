package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure, lock held)
	ExitConfigError = 2 // Configuration error (unreadable config, missing email, bad log settings)
	ExitDataError   = 3 // Data error (sync finished with failed days or records, not found)
)
