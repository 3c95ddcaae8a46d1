package scoring

import (
	"fmt"
	"sort"
	"strings"

	"monitorai/internal/rubric"
)

// Accepted spellings of each field. The first alias is the one the judge is
// asked to produce and the one used in error paths.
var (
	keyGroups       = []string{"grupos", "groups"}
	keyTotals       = []string{"pontuacao_total", "total_score"}
	keySummary      = []string{"resumo_geral", "summary"}
	keyStrengths    = []string{"pontos_positivos", "strengths"}
	keyImprovements = []string{"pontos_melhoria", "improvements"}
	keyEliminatory  = []string{"criterios_eliminatorios", "eliminatory"}
	keyID           = []string{"id"}
	keyName         = []string{"nome", "name", "criterio"}
	keyItems        = []string{"itens", "items"}
	keyItemVerdict  = []string{"atendido", "passed", "ocorreu", "resposta"}
	keyGroupPassed  = []string{"aprovado", "passed"}
	keyOccurred     = []string{"ocorreu", "occurred"}
	keyGroupWeight  = []string{"peso_grupo", "weight"}
	keyWeight       = []string{"peso", "weight"}
	keyPoints       = []string{"pontos_obtidos", "points"}
	keyJustify      = []string{"justificativa", "justification"}
	keyObtained     = []string{"obtida", "obtained"}
	keyMaximum      = []string{"maxima", "maximum"}
	keyPercentage   = []string{"percentual", "percentage"}
)

// Validate maps the untyped record onto the rubric. It is liberal in surface
// syntax and strict about anything it cannot map unambiguously: a missing
// group, item or required field is an error, never a default.
func Validate(record map[string]any, r *rubric.Rubric) (*Skeleton, error) {
	groupsRaw, ok := lookup(record, keyGroups)
	if !ok {
		return nil, missing(keyGroups[0])
	}
	totalsRaw, ok := lookup(record, keyTotals)
	if !ok {
		return nil, missing(keyTotals[0])
	}
	totals, ok := totalsRaw.(map[string]any)
	if !ok {
		return nil, missing(keyTotals[0])
	}
	summaryRaw, ok := lookup(record, keySummary)
	if !ok {
		return nil, missing(keySummary[0])
	}
	summary, ok := summaryRaw.(string)
	if !ok {
		return nil, missing(keySummary[0])
	}

	entries, ok := objectEntries(groupsRaw)
	if !ok {
		return nil, missing(keyGroups[0])
	}

	sk := &Skeleton{Summary: strings.TrimSpace(summary)}
	bound := make([]bool, len(entries))
	for _, g := range r.Groups {
		idx := findGroup(entries, bound, g)
		if idx < 0 {
			return nil, missing(fmt.Sprintf("%s[%s]", keyGroups[0], g.ID))
		}
		bound[idx] = true
		ge, err := validateGroup(entries[idx], g)
		if err != nil {
			return nil, err
		}
		sk.Groups = append(sk.Groups, ge)
	}

	var err error
	if sk.Reported.Obtained, err = optionalNumber(totals, keyObtained, keyTotals[0]); err != nil {
		return nil, err
	}
	if sk.Reported.Maximum, err = optionalNumber(totals, keyMaximum, keyTotals[0]); err != nil {
		return nil, err
	}
	if sk.Reported.Percentage, err = optionalNumber(totals, keyPercentage, keyTotals[0]); err != nil {
		return nil, err
	}

	if sk.Strengths, err = stringList(record, keyStrengths); err != nil {
		return nil, err
	}
	if sk.Improvements, err = stringList(record, keyImprovements); err != nil {
		return nil, err
	}
	if sk.Eliminatory, err = validateEliminatory(record, r); err != nil {
		return nil, err
	}
	return sk, nil
}

func validateGroup(entry map[string]any, g rubric.Group) (GroupEntry, error) {
	path := fmt.Sprintf("%s[%s]", keyGroups[0], g.ID)
	ge := GroupEntry{GroupID: g.ID, Justification: text(entry, keyJustify)}

	if raw, ok := lookup(entry, keyGroupPassed); ok {
		v, err := parseVerdict(path+"."+keyGroupPassed[0], raw)
		if err != nil {
			return ge, err
		}
		ge.ReportedPassed = v
	}
	var err error
	if ge.ReportedPoints, err = optionalNumber(entry, keyPoints, path); err != nil {
		return ge, err
	}
	if ge.ReportedWeight, err = optionalNumber(entry, keyGroupWeight, path); err != nil {
		return ge, err
	}

	var items []map[string]any
	if raw, ok := lookup(entry, keyItems); ok {
		items, _ = objectEntries(raw)
	}
	for _, it := range g.Items {
		itemPath := fmt.Sprintf("%s.%s[%s]", path, keyItems[0], it.ID)
		raw := findItem(items, it.ID)
		if raw == nil {
			return ge, missing(itemPath)
		}
		verdictRaw, ok := lookup(raw, keyItemVerdict)
		if !ok {
			return ge, missing(itemPath + "." + keyItemVerdict[0])
		}
		answer, err := parseVerdict(itemPath+"."+keyItemVerdict[0], verdictRaw)
		if err != nil {
			return ge, err
		}
		ie := ItemEntry{ItemID: it.ID, Answer: answer, Justification: text(raw, keyJustify)}
		if ie.ReportedPoints, err = optionalNumber(raw, keyPoints, itemPath); err != nil {
			return ge, err
		}
		if ie.ReportedWeight, err = optionalNumber(raw, keyWeight, itemPath); err != nil {
			return ge, err
		}
		ge.Items = append(ge.Items, ie)
	}
	return ge, nil
}

func validateEliminatory(record map[string]any, r *rubric.Rubric) ([]EliminatoryFlag, error) {
	raw, ok := lookup(record, keyEliminatory)
	if !ok || raw == nil {
		if len(r.Eliminatory) > 0 {
			return nil, missing(keyEliminatory[0])
		}
		return nil, nil
	}

	type candidate struct {
		id, name string
		body     any
	}
	var found []candidate
	switch x := raw.(type) {
	case []any:
		for _, el := range x {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			id, _ := lookup(obj, keyID)
			idStr, _ := identifier(id)
			found = append(found, candidate{id: idStr, name: text(obj, keyName), body: obj})
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			found = append(found, candidate{id: rubric.CanonicalID(k), name: k, body: x[k]})
		}
	default:
		return nil, invalidEnum(keyEliminatory[0], raw)
	}

	decode := func(c candidate, id, name string) (EliminatoryFlag, error) {
		path := fmt.Sprintf("%s[%s]", keyEliminatory[0], id)
		flag := EliminatoryFlag{ID: id, Name: name}
		var occurredRaw any
		if obj, ok := c.body.(map[string]any); ok {
			v, ok := lookup(obj, keyOccurred)
			if !ok {
				return flag, missing(path + "." + keyOccurred[0])
			}
			occurredRaw = v
			flag.Justification = text(obj, keyJustify)
		} else {
			occurredRaw = c.body
		}
		occurred, err := parseVerdict(path+"."+keyOccurred[0], occurredRaw)
		if err != nil {
			return flag, err
		}
		flag.Occurred = occurred
		return flag, nil
	}

	used := make([]bool, len(found))
	var out []EliminatoryFlag
	for _, crit := range r.Eliminatory {
		idx := -1
		for i, c := range found {
			if used[i] {
				continue
			}
			if c.id == rubric.CanonicalID(crit.ID) || rubric.CanonicalName(c.name) == rubric.CanonicalName(crit.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, missing(fmt.Sprintf("%s[%s]", keyEliminatory[0], crit.ID))
		}
		used[idx] = true
		flag, err := decode(found[idx], crit.ID, crit.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, flag)
	}

	var extras []EliminatoryFlag
	for i, c := range found {
		if used[i] {
			continue
		}
		name := strings.TrimSpace(c.name)
		if name == "" {
			name = c.id
		}
		if name == "" {
			continue
		}
		id := c.id
		if id == "" {
			id = name
		}
		flag, err := decode(c, id, name)
		if err != nil {
			return nil, err
		}
		extras = append(extras, flag)
	}
	sort.SliceStable(extras, func(i, j int) bool { return extras[i].Name < extras[j].Name })
	return append(out, extras...), nil
}

// findGroup returns the index of the entry for g, by id and then by name.
// Entries already bound to an earlier group are never reused.
func findGroup(entries []map[string]any, bound []bool, g rubric.Group) int {
	want := rubric.CanonicalID(g.ID)
	for i, e := range entries {
		if bound[i] {
			continue
		}
		if raw, ok := lookup(e, keyID); ok {
			if id, ok := identifier(raw); ok && id == want {
				return i
			}
		}
	}
	name := rubric.CanonicalName(g.Name)
	for i, e := range entries {
		if bound[i] {
			continue
		}
		if rubric.CanonicalName(text(e, keyName)) == name {
			return i
		}
	}
	return -1
}

func findItem(items []map[string]any, itemID string) map[string]any {
	want := rubric.CanonicalID(itemID)
	for _, it := range items {
		raw, ok := lookup(it, keyID)
		if !ok {
			continue
		}
		if id, ok := identifier(raw); ok && id == want {
			return it
		}
	}
	return nil
}

// objectEntries accepts either an array of objects or an object keyed by id.
// Keyed entries get the key as their id unless they carry one.
func objectEntries(v any) ([]map[string]any, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, el := range x {
			if obj, ok := el.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out, true
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			obj, ok := x[k].(map[string]any)
			if !ok {
				continue
			}
			if _, has := obj["id"]; !has {
				withID := make(map[string]any, len(obj)+1)
				for kk, vv := range obj {
					withID[kk] = vv
				}
				withID["id"] = k
				obj = withID
			}
			out = append(out, obj)
		}
		return out, true
	default:
		return nil, false
	}
}

func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func optionalNumber(obj map[string]any, keys []string, path string) (*float64, error) {
	raw, ok := lookup(obj, keys)
	if !ok {
		return nil, nil
	}
	v, present, err := parseNumber(path+"."+keys[0], raw)
	if err != nil || !present {
		return nil, err
	}
	return floatPtr(v), nil
}

// text reads an optional free-text field; null and absent become "".
func text(obj map[string]any, keys []string) string {
	raw, ok := lookup(obj, keys)
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}

func stringList(obj map[string]any, keys []string) ([]string, error) {
	raw, ok := lookup(obj, keys)
	if !ok || raw == nil {
		return []string{}, nil
	}
	switch x := raw.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}, nil
		}
		return []string{}, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, el := range x {
			if el == nil {
				continue
			}
			s, ok := el.(string)
			if !ok {
				s = fmt.Sprint(el)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, invalidEnum(keys[0], raw)
	}
}
