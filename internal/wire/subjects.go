package wire

import "fmt"

// Type identifies the (subject, version) pair that a payload conforms to.
// The naming convention is titan.{layer}.{domain}.{action}.v{N}[.partition].
type Type string

const (
	TypeIntentV1           Type = "titan.cmd.execution.place.v1"
	TypeSysHaltV1          Type = "titan.cmd.sys.halt.v1"
	TypeOperatorV1         Type = "titan.cmd.operator.v1"
	TypeExecFillV1         Type = "titan.evt.execution.fill.v1"
	TypeExecShadowFillV1   Type = "titan.evt.execution.shadow_fill.v1"
	TypeExecReportV1       Type = "titan.evt.execution.report.v1"
	TypeExecRejectV1       Type = "titan.evt.execution.reject.v1"
	TypeOpsEventV1         Type = "titan.evt.ops"
	TypeMarketTickerV1     Type = "titan.data.market.ticker.v1"
	TypeMarketTradeV1      Type = "titan.data.market.trade.v1"
	TypeVenueStatusV1      Type = "titan.data.venues.status.v1"
	TypeRPCGetPositionsV1  Type = "titan.rpc.execution.get_positions.v1"
	TypeRPCGetBalancesV1   Type = "titan.rpc.execution.get_balances.v1"
	TypeHeartbeatV1        Type = "titan.sys.heartbeat.v1"
	TypeSignalSubmitV1     Type = "titan.signal.submit.v1"
	TypeDLQ                Type = "titan.dlq"
)

// schemaVersions is the schema_version this build implements for a given
// Type. §9 Open Question (a): schema_version and the v{N} suffix embedded
// in the subject are treated as independent fields. The codec rejects a
// schema_version above the one registered here and does not compare it
// with the subject suffix.
var schemaVersions = map[Type]int{
	TypeIntentV1:          1,
	TypeSysHaltV1:         1,
	TypeOperatorV1:        1,
	TypeExecFillV1:        1,
	TypeExecShadowFillV1:  1,
	TypeExecReportV1:      1,
	TypeExecRejectV1:      1,
	TypeOpsEventV1:        1,
	TypeMarketTickerV1:    1,
	TypeMarketTradeV1:     1,
	TypeVenueStatusV1:     1,
	TypeRPCGetPositionsV1: 1,
	TypeRPCGetBalancesV1:  1,
	TypeHeartbeatV1:       1,
	TypeSignalSubmitV1:    1,
}

// legacyAliases maps deprecated field names to their current name. Accepted
// on ingress and normalized during decode.
var legacyAliases = map[string]string{
	"timestamp": "t_signal",
}

// KnownType reports whether t is a recognized registry entry.
func KnownType(t Type) bool {
	_, ok := schemaVersions[t]
	return ok
}

// MaxSchemaVersion returns the highest schema_version this build accepts
// for t.
func MaxSchemaVersion(t Type) (int, bool) {
	v, ok := schemaVersions[t]
	return v, ok
}

// SubjectFor renders the concrete bus subject for t, substituting the
// given partition components in order (venue, account, symbol, etc).
// Types without partitions ignore extra arguments.
func SubjectFor(t Type, partitions ...string) string {
	subj := string(t)
	for _, p := range partitions {
		subj = fmt.Sprintf("%s.%s", subj, p)
	}
	return subj
}

// dualPublish maps a Type to the legacy subject prefix still being
// drained during a schema migration window. Entries are installed with
// RegisterDualPublish at startup and removed once consumers of the old
// subject are gone.
var dualPublish = map[Type]Type{}

// RegisterDualPublish opens a migration window for t: until it is closed
// with UnregisterDualPublish, producers going through DualPublishSubjects
// publish to both the canonical and the legacy subject.
func RegisterDualPublish(t, legacy Type) {
	dualPublish[t] = legacy
}

// UnregisterDualPublish closes t's migration window.
func UnregisterDualPublish(t Type) {
	delete(dualPublish, t)
}

// DualPublishSubjects returns every subject a producer should publish to
// for t: the canonical subject, plus the legacy subject while a migration
// window is open. Callers should always go through this function rather
// than SubjectFor directly so a migration only needs one registry edit.
func DualPublishSubjects(t Type, partitions ...string) []string {
	subjects := []string{SubjectFor(t, partitions...)}
	if legacy, ok := dualPublish[t]; ok {
		subjects = append(subjects, SubjectFor(legacy, partitions...))
	}
	return subjects
}

// NormalizeLegacyField returns the current field name for a possibly
// legacy one, or name unchanged if it has no alias.
func NormalizeLegacyField(name string) string {
	if cur, ok := legacyAliases[name]; ok {
		return cur
	}
	return name
}
