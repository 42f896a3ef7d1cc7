/*
Package logging implements application log instrumentation and the access
log of the routing decisions.

Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import this package and use its
methods. Example:

    import log "github.com/sirupsen/logrus"

    func doSomething() {
        log.Errorf("nothing to do")
    }

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, and to set a common
prefix for each log entry. Setting the prefix may be a good idea when
the access log is enabled and its output is the same as the one of the
application log, to make it easier to split the output for diagnostics.

Access Log

The access log prints one line for every routing decision, DNS or HTTP,
as key=value pairs following the epoch timestamp of the request:

    1445265000.000 qtype=HTTP chi=192.0.2.7 rhi=- url="http://edge.video.example.com/a.m3u8" rtype=CZ rloc="52.52,13.40" rdtl=- rerr="-" rgb="-" pssc=302 ttms=0.124 rurl="http://c1.video.example.com/a.m3u8"

With AccessLogJSONEnabled, the same fields are printed as a JSON object.
To output entries, pass the saved tracks to LogTrack. The root package
registers it as an observer of the stats tracker.

During initialization, it is possible to redirect the access log output
from the default /dev/stderr to another file, or completely disable the
access log.
*/
package logging
