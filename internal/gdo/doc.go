// Package gdo mirrors the state of a Ryobi garage door opener.
//
// A Model holds two attribute groups, garageDoor and garageLight, each a map
// of attribute name to Attribute{Value, LastValue, LastSet, Enum}. The cloud
// pushes partial updates keyed by "<module>_<port>.<attribute>"; Model.Apply
// merges them leaf-wise so an update never clobbers sibling attributes or
// fields the server did not send.
//
// Readers never touch the live model. Snapshot returns a State copy and all
// derived values (DoorState, CoverPosition, ErrorInfo, ...) are pure
// functions of a State.
package gdo
