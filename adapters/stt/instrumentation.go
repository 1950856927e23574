package stt

import "go.opentelemetry.io/otel"

const scopeName = "github.com/wenzhen/server/adapters/stt"

var tracer = otel.Tracer(scopeName)
