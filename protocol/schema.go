package protocol

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
)

// Schema 反射出全部线上消息的 JSON Schema（oneOf），供客户端实现者校验
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}

	types := make([]MessageType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	variants := make([]*jsonschema.Schema, 0, len(types))
	for _, t := range types {
		msg := factories[t]()
		s := reflector.ReflectFromType(reflect.TypeOf(msg).Elem())
		s.Version = ""
		s.Title = t.String()
		s.Description = fmt.Sprintf("Datagram with \"type\": %d. Unknown additional fields are ignored.", int(t))
		variants = append(variants, s)
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "playersync wire protocol " + Version,
		Description: "One JSON object per datagram, tagged by its numeric \"type\" field.",
		OneOf:       variants,
	}
}
