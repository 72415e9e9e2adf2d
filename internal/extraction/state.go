package extraction

// State is a step of the page cycle.
type State int

const (
	StateIdle State = iota
	StateSessionOpen
	StateNavigated
	StateScraped
	StateIDsExtracted
	StateDetailsFetched
	StateEnriched
	StatePersisted
	StateClosed
)

var stateNames = [...]string{
	"idle",
	"session_open",
	"navigated",
	"scraped",
	"ids_extracted",
	"details_fetched",
	"enriched",
	"persisted",
	"closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
