/*
Package logging implements application log instrumentation and Apache
combined access log.

Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

    import log "github.com/sirupsen/logrus"

    func doSomething() {
        log.Errorf("nothing to do")
    }

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the log level, and
to set a common prefix for each log entry. Setting the prefix may be a
good idea when the access log is enabled and its output is the same as
the one of the application log, to make it easier to split the output
for diagnostics.

Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration in milliseconds, the
requested host, the flow id, the served variant and whether the variant
was newly assigned or sticky. To output entries, use LogAccess, or wrap
a handler with NewHandler, as the main listener does with the proxy. The
wrapped handler records the variant with SetSelection.

During initialization, it is possible to redirect the access log output
from the default /dev/stderr to another file, switch to JSON entries, or
completely disable the access log.
*/
package logging
