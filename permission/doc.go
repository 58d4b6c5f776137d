// Package permission assigns named permissions to bits of a 64-bit mask and
// composes roles from them.
//
// Bits are handed out in registration order and are stable for the life of
// the process. When the root bit is reserved, the highest bit grants every
// permission; a role receives it by listing [RootPermission].
//
// This package is in-memory only.
package permission
