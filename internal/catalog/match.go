package catalog

type matchKey struct {
	effect EffectKind
	pre    PreconditionKind
}

// matchTable lists every (effect, precondition) pair that can ever match.
// Pairs absent from the table never match. An add_item fixes has_item only
// when it alone supplies the required count.
var matchTable = map[matchKey]func(e *Effect, p *Precondition) bool{
	{EffDriveChange, PreDriveBelow}: func(e *Effect, p *Precondition) bool {
		return e.Drive == p.Drive && e.Amount < 0
	},
	{EffDriveChange, PreDriveAbove}: func(e *Effect, p *Precondition) bool {
		return e.Drive == p.Drive && e.Amount > 0
	},
	{EffAddItem, PreHasItem}: func(e *Effect, p *Precondition) bool {
		return e.EntityType == p.EntityType && e.Quantity() >= max(p.Count, 1)
	},
	{EffRemoveItem, PreLacksItem}: func(e *Effect, p *Precondition) bool {
		return e.EntityType == p.EntityType
	},
	{EffAddTag, PreHasTag}: func(e *Effect, p *Precondition) bool {
		return e.Tag == p.Tag
	},
	{EffRemoveTag, PreLacksTag}: func(e *Effect, p *Precondition) bool {
		return e.Tag == p.Tag
	},
}

// Matches reports whether applying e can make p true. Event-timed effects
// never count: nothing guarantees the event fires before the next node.
func Matches(e *Effect, p *Precondition) bool {
	if e.Timing == TimingOnEvent {
		return false
	}
	fn, ok := matchTable[matchKey{e.Kind, p.Kind}]
	return ok && fn(e, p)
}

// Provider is a (template, effect) pair able to fix some precondition.
type Provider struct {
	Template *Template
	Effect   int
}

// providersFor scans templates in catalog order. A template contributes at
// most once, through its first matching effect.
func providersFor(templates []*Template, p *Precondition) []Provider {
	var out []Provider
	for _, t := range templates {
		for ei := range t.Effects {
			if Matches(&t.Effects[ei], p) {
				out = append(out, Provider{Template: t, Effect: ei})
				break
			}
		}
	}
	return out
}
