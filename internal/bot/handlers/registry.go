package handlers

import (
	"github.com/edgard/webmax"
	"github.com/edgard/webmax/filters"
)

// RegisteredHandler describes one bot command: the filter selecting its
// messages, the handler and the middleware applied to it only.
type RegisteredHandler struct {
	Name       string
	Filter     filters.Filter
	Handler    webmax.MessageHandler
	Middleware []webmax.Middleware
}

// command matches /name sent by someone other than the bot itself.
func command(name string) filters.Filter {
	return filters.And(filters.Command(name), filters.Not(filters.Me()))
}

// AllCommands returns the bot handlers in the order they must be
// registered. The history recorder comes last so that /ask does not see
// its own question in the stored history.
func AllCommands(deps HandlerDeps) []RegisteredHandler {
	adminMiddleware := []webmax.Middleware{AdminOnly(deps)}

	return []RegisteredHandler{
		{Name: "start", Filter: command("start"), Handler: NewStartHandler(deps)},
		{Name: "help", Filter: command("help"), Handler: NewHelpHandler(deps)},
		{Name: "ping", Filter: command("ping"), Handler: NewPingHandler(deps)},
		{Name: "ask", Filter: command("ask"), Handler: NewAskHandler(deps)},
		{Name: "forget", Filter: command("forget"), Handler: NewForgetHandler(deps), Middleware: adminMiddleware},
		{Name: "logout", Filter: command("logout"), Handler: NewLogoutHandler(deps), Middleware: adminMiddleware},
		{Name: "history", Filter: HasText, Handler: NewHistoryHandler(deps)},
	}
}

// RegisterAll registers every bot handler on c.
func RegisterAll(c *webmax.Client, deps HandlerDeps) []webmax.Registration {
	var regs []webmax.Registration
	for _, rh := range AllCommands(deps) {
		h := rh.Handler
		for i := len(rh.Middleware) - 1; i >= 0; i-- {
			h = rh.Middleware[i](h)
		}
		regs = append(regs, c.Handle(rh.Name, rh.Filter, h))
		deps.Logger.Debug("Registered handler", "name", rh.Name, "filter", filters.Describe(rh.Filter))
	}
	return regs
}
