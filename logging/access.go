package logging

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/stats"
)

const emptyValue = "-"

var (
	httpAccessKeys = []string{
		"qtype", "chi", "rhi", "url", "rtype", "rloc", "rdtl",
		"rerr", "rgb", "pssc", "ttms", "rurl",
	}

	dnsAccessKeys = []string{
		"qtype", "chi", "rhi", "ttms", "fqdn", "type", "rcode",
		"rtype", "rloc", "rdtl", "rerr", "ans",
	}

	quotedAccessKeys = map[string]bool{
		"url":  true,
		"rloc": true,
		"rerr": true,
		"rgb":  true,
		"rurl": true,
		"ans":  true,
	}
)

type accessLogFormatter struct{}

var accessLog atomic.Pointer[logrus.Logger]

func orEmpty(s string) string {
	if s == "" {
		return emptyValue
	}

	return s
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}

func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', 3, 64)
}

func (f *accessLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	keys := httpAccessKeys
	if e.Data["qtype"] == string(stats.DNS) {
		keys = dnsAccessKeys
	}

	var b bytes.Buffer
	b.WriteString(fmt.Sprint(e.Data["timestamp"]))
	for _, k := range keys {
		v := fmt.Sprint(e.Data[k])
		if quotedAccessKeys[k] {
			v = strconv.Quote(v)
		}

		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func trackFields(t *stats.Track) logrus.Fields {
	client := emptyValue
	if t.ClientAddr.IsValid() {
		client = t.ClientAddr.String()
	}

	rloc := emptyValue
	if t.ResultLocation != nil {
		rloc = t.ResultLocation.String()
	}

	rerr := emptyValue
	if t.Err != nil {
		rerr = t.Err.Error()
	}

	rgb := emptyValue
	if t.RegionalGeo != nil {
		rgb = fmt.Sprintf("%s:%s:%s", t.RegionalGeo.Type, orEmpty(t.RegionalGeo.Postal), t.RegionalGeo.RuleType)
	}

	fields := logrus.Fields{
		"timestamp": formatEpoch(t.Start),
		"qtype":     string(t.RouteType),
		"chi":       client,
		"rhi":       emptyValue,
		"rtype":     orEmpty(string(t.Result)),
		"rloc":      rloc,
		"rdtl":      orEmpty(string(t.Details)),
		"rerr":      rerr,
		"ttms":      formatMillis(t.Duration()),
	}

	if t.RouteType == stats.DNS {
		rcode := emptyValue
		if s, ok := dns.RcodeToString[t.Status]; ok {
			rcode = s
		}

		fields["fqdn"] = orEmpty(t.FQDN)
		fields["type"] = orEmpty(t.Request)
		fields["rcode"] = rcode
		fields["ans"] = orEmpty(t.Response)
		return fields
	}

	pssc := emptyValue
	if t.Status != 0 {
		pssc = strconv.Itoa(t.Status)
	}

	fields["url"] = orEmpty(t.Request)
	fields["rgb"] = rgb
	fields["pssc"] = pssc
	fields["rurl"] = orEmpty(t.Response)
	return fields
}

// LogTrack prints the access log entry of a saved track.
func LogTrack(t *stats.Track) {
	l := accessLog.Load()
	if l == nil || t == nil {
		return
	}

	l.WithFields(trackFields(t)).Infoln()
}
