package metrics

// HubObserver receives hub lifecycle signals so the broadcast loop stays
// free of metrics imports.
type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
	RecordDrop()
}
