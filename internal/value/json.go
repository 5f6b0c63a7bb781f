package value

import "fmt"

// ToJSON converts a Value into a plain Go value built from the types
// encoding/json already knows how to marshal (map[string]interface{},
// []interface{}, string, nil), so the result can be handed to an external
// schema validator or re-serialized directly.
//
// Keywords lose their leading colon; symbols are rendered as their bare
// name; tagged literals that survive to this point (i.e. were never
// substituted by the template expander) are rendered as their payload,
// since by the time a document reaches JSON there must be no unresolved
// watcher references left in it.
func ToJSON(v Value) (interface{}, error) {
	switch v.Kind {
	case Nil:
		return nil, nil
	case String:
		return v.Str, nil
	case Keyword, Symbol:
		return v.Str, nil
	case List, Vector, Set:
		out := make([]interface{}, len(v.Items))
		for i, it := range v.Items {
			jv, err := ToJSON(it)
			if err != nil {
				return nil, err
			}

			out[i] = jv
		}

		return out, nil
	case Map:
		out := make(map[string]interface{}, len(v.Pairs))
		for _, p := range v.Pairs {
			k, err := jsonKey(p.Key)
			if err != nil {
				return nil, err
			}

			jv, err := ToJSON(p.Val)
			if err != nil {
				return nil, err
			}

			out[k] = jv
		}

		return out, nil
	case Tagged:
		if v.Tag.Payload == nil {
			return nil, nil
		}

		return ToJSON(*v.Tag.Payload)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
}

func jsonKey(v Value) (string, error) {
	switch v.Kind {
	case String, Keyword, Symbol:
		return v.Str, nil
	default:
		return "", fmt.Errorf("value: map key is not a string-like value")
	}
}
