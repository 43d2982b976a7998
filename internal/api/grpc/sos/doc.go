// Package sos is the gRPC transport adapter of the control API.
//
// The service is described by a hand-written grpc.ServiceDesc whose messages
// are protobuf well-known types (Struct, Empty, StringValue, BoolValue,
// Duration), so clients need nothing beyond grpc-go and the conversion
// helpers in this package.
package sos
