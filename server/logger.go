package server

import "llmstreambench/internal/logging"

// AppLogger is the server's global logger. It discards output until
// replaced, which keeps handler tests quiet.
var AppLogger = logging.Discard()
