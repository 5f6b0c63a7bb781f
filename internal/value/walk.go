package value

// WatcherTag reports whether v is a #condo/watcher tagged literal and, if
// so, returns its string payload. A tagged literal in the "condo/watcher"
// position whose payload is not a string is a structural error: ok is true
// and key is empty with structOK false.
func WatcherTag(v Value) (key string, ok bool, structOK bool) {
	if v.Kind != Tagged || v.Tag.Namespace != "condo" || v.Tag.Name != "watcher" {
		return "", false, true
	}

	if v.Tag.Payload == nil || v.Tag.Payload.Kind != String {
		return "", true, false
	}

	return v.Tag.Payload.Str, true, true
}

// FindWatchers returns every distinct watcher key referenced anywhere in
// v (§4.2 find_watchers). A malformed #condo/watcher literal (non-string
// payload) is reported through onError rather than aborting the walk, so a
// single bad reference doesn't hide the others.
func FindWatchers(v Value, onError func(Value)) []string {
	seen := map[string]bool{}
	var keys []string

	var walk func(Value)
	walk = func(v Value) {
		if key, isTag, structOK := WatcherTag(v); isTag {
			if !structOK {
				if onError != nil {
					onError(v)
				}

				return
			}

			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}

			return
		}

		switch v.Kind {
		case List, Vector, Set:
			for _, it := range v.Items {
				walk(it)
			}
		case Map:
			for _, p := range v.Pairs {
				walk(p.Key)
				walk(p.Val)
			}
		}
	}

	walk(v)
	return keys
}

// Substitute replaces every #condo/watcher "k" node in v with the value
// resolve(k) returns. Substitution is non-recursive on the replacement:
// resolve's result is spliced in as-is and never itself walked. A
// reference to a watcher resolve doesn't know about is a programmer error
// (the caller is required to have already incref'd every key FindWatchers
// returned), so resolve is expected to always succeed for a well-formed
// precondition.
func Substitute(v Value, resolve func(key string) (Value, bool)) Value {
	if key, isTag, structOK := WatcherTag(v); isTag {
		if !structOK {
			return v
		}

		if rv, ok := resolve(key); ok {
			return rv
		}

		return v
	}

	switch v.Kind {
	case List, Vector, Set:
		items := make([]Value, len(v.Items))
		for i, it := range v.Items {
			items[i] = Substitute(it, resolve)
		}

		return Value{Kind: v.Kind, Items: items}
	case Map:
		pairs := make([]Pair, len(v.Pairs))
		for i, p := range v.Pairs {
			pairs[i] = Pair{
				Key: Substitute(p.Key, resolve),
				Val: Substitute(p.Val, resolve),
			}
		}

		return Value{Kind: Map, Pairs: pairs}
	default:
		return v
	}
}
