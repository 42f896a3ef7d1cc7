package jsonfile

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/federation"
	"github.com/zalando/trafficrouter/snapshot"
)

const federationsName = "federations file"

// parseFederations reads the federation mappings:
//
//	{"response": [{"deliveryService": "ds", "mappings": [{"cname": "...",
//	  "ttl": 60, "resolve4": [...], "resolve6": [...]}]}]}
func parseFederations(data []byte, c *snapshot.Config) error {
	doc, err := parseDocument(federationsName, data)
	if err != nil {
		return err
	}

	response, err := requireArray(doc, federationsName, responseKey)
	if err != nil {
		return err
	}

	for _, fv := range response.Array() {
		ds := fv.Get("deliveryService").String()
		if ds == "" {
			log.Errorf("Skipping federation without delivery service")
			continue
		}

		fv.Get("mappings").ForEach(func(_, mv gjson.Result) bool {
			if c.Federations == nil {
				c.Federations = make(map[string][]federation.MappingConfig)
			}

			c.Federations[ds] = append(c.Federations[ds], federation.MappingConfig{
				CNAME:    mv.Get("cname").String(),
				TTL:      uint32(mv.Get("ttl").Uint()),
				Resolve4: stringList(mv.Get("resolve4")),
				Resolve6: stringList(mv.Get("resolve6")),
			})

			return true
		})
	}

	return nil
}
