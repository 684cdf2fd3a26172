package diffsync

// applyMergePatch implements RFC 7386 JSON Merge Patch (spec §4.10,
// "Merge-patch semantics"): for each key:value in patch, a null value
// removes the key, an object value recurses, anything else replaces.
func applyMergePatch(doc, patch any) any {
	patchObj, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	docObj, ok := doc.(map[string]any)
	if !ok {
		docObj = make(map[string]any)
	} else {
		docObj = cloneShallow(docObj)
	}
	for k, v := range patchObj {
		if v == nil {
			delete(docObj, k)
			continue
		}
		if _, isObj := v.(map[string]any); isObj {
			docObj[k] = applyMergePatch(docObj[k], v)
			continue
		}
		docObj[k] = v
	}
	return docObj
}

func cloneShallow(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// pruneEmpty removes sub-objects left with no keys after a batch of
// merge patches has been applied (spec §4.10, "structural cleanup").
// It walks bottom-up so a parent that becomes empty only because its
// last child was just pruned is itself pruned.
func pruneEmpty(doc any) any {
	obj, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	for k, v := range obj {
		pruned := pruneEmpty(v)
		if sub, isObj := pruned.(map[string]any); isObj && len(sub) == 0 {
			delete(obj, k)
			continue
		}
		obj[k] = pruned
	}
	return obj
}

func deepCopyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyJSON(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyJSON(vv)
		}
		return out
	default:
		return v
	}
}
