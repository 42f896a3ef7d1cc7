package jsonfile

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/snapshot"
	"github.com/zalando/trafficrouter/steering"
)

const (
	steeringName = "steering file"
	responseKey  = "response"
)

func parseSteeringTarget(v gjson.Result) (steering.Target, error) {
	t := steering.Target{
		DeliveryService: v.Get("deliveryService").String(),
		Weight:          int(v.Get("weight").Int()),
		Order:           int(v.Get("order").Int()),
		GeoOrder:        int(v.Get("geoOrder").Int()),
	}

	if t.DeliveryService == "" {
		return steering.Target{}, errors.New("target without delivery service")
	}

	if g, err := parseCoordinates(v, "latitude", "longitude"); err == nil {
		t.Geolocation = g
	}

	return t, nil
}

func parseSteering(v gjson.Result) (*steering.Steering, error) {
	s := &steering.Steering{
		DeliveryService: v.Get("deliveryService").String(),
		ClientSteering:  optBool(v.Get("clientSteering"), false),
	}

	if s.DeliveryService == "" {
		return nil, errors.New("steering without delivery service")
	}

	for _, tv := range v.Get("targets").Array() {
		t, err := parseSteeringTarget(tv)
		if err != nil {
			log.Errorf("Skipping target of steering %s: %v", s.DeliveryService, err)
			continue
		}

		s.Targets = append(s.Targets, t)
	}

	for _, fv := range v.Get("filters").Array() {
		f, err := steering.NewFilter(fv.Get("pattern").String(), fv.Get("deliveryService").String())
		if err != nil {
			log.Errorf("Skipping filter of steering %s: %v", s.DeliveryService, err)
			continue
		}

		s.Filters = append(s.Filters, f)
	}

	return s, nil
}

// parseSteeringDocument reads the steering document. The response is a
// list of steering entries, or an object of lists by delivery service
// id.
func parseSteeringDocument(data []byte, c *snapshot.Config) error {
	doc, err := parseDocument(steeringName, data)
	if err != nil {
		return err
	}

	response := field(doc, responseKey)
	var entries []gjson.Result
	switch {
	case response.IsArray():
		entries = response.Array()
	case response.IsObject():
		response.ForEach(func(_, v gjson.Result) bool {
			if v.IsArray() {
				entries = append(entries, v.Array()...)
			} else {
				entries = append(entries, v)
			}

			return true
		})
	default:
		return invalidDocument(steeringName, "missing %q", responseKey)
	}

	for _, e := range entries {
		s, err := parseSteering(e)
		if err != nil {
			log.Errorf("Skipping steering: %v", err)
			continue
		}

		c.Steering = append(c.Steering, s)
	}

	return nil
}
