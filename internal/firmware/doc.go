// Package firmware defines the firmware image model for SensorFlash Core
// and the client for the remote compile service.
//
// A flash operation owns an ordered sequence of FlashFiles, each a decoded
// byte payload bound to a flash address offset. FlashFiles are immutable
// once received from the compile service.
//
// # Payload Encodings
//
// The compile service has shipped firmware bytes in three shapes over its
// lifetime: a base64 string, a JSON integer array, and (from in-process
// callers) raw bytes. Payload is the sum type that absorbs all three at the
// decode boundary so the flash writer only ever sees []byte.
package firmware
