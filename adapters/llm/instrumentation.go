package llm

import "go.opentelemetry.io/otel"

const scopeName = "github.com/wenzhen/server/adapters/llm"

var tracer = otel.Tracer(scopeName)
