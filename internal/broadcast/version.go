package broadcast

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// ProtocolVersion is the wire protocol spoken by this build. Peers must
// share the major version.
const ProtocolVersion = "v1.0.0"

// ProtocolHeader carries the peer's protocol version on the upgrade request.
const ProtocolHeader = "X-Postlink-Protocol"

// CheckProtocol reports whether a peer speaking version can join.
// An empty version is treated as current.
func CheckProtocol(version string) error {
	if version == "" {
		return nil
	}
	if !semver.IsValid(version) {
		return fmt.Errorf("invalid protocol version %q", version)
	}
	if semver.Major(version) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("protocol %s is incompatible with %s", version, ProtocolVersion)
	}
	return nil
}
