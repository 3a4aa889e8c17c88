// Package tui is the interactive terminal dashboard for garage door openers.
//
// The dashboard shows one card per device with door state, position, light
// and cloud connection, and sends open/close/light commands to the selected
// device. State changes pushed by the session layer are coalesced into a
// single refresh so a burst of updates redraws the screen once.
//
// Card is also used on its own by the status command for one-shot output.
package tui
