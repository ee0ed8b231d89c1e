package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-places/internal/repository"
	"github.com/i474232898/weather-places/internal/weather"
)

var validate = validator.New()

const (
	defaultCommandTimeout = 45 * time.Second
	keepAliveInterval     = 15 * time.Second
)

// PlaceService is the repository surface the API needs.
type PlaceService interface {
	Places() []weather.Place
	Place(id int64) (weather.Place, bool)
	FindAndAdd(city, country string) <-chan weather.Result
	RefreshAll() <-chan weather.Result
	Refresh(id int64) <-chan weather.Result
	Move(from, to int) <-chan weather.Result
	Delete(id int64) <-chan weather.Result
	Events(ctx context.Context) <-chan repository.ChangeEvent
}

type handlers struct {
	svc     PlaceService
	timeout time.Duration
}

// RegisterRoutes wires the place handlers into the Fiber app. A non-positive
// timeout selects 45 seconds.
func RegisterRoutes(app *fiber.App, svc PlaceService, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	h := &handlers{svc: svc, timeout: timeout}

	v1 := app.Group("/api/v1")
	v1.Get("/places", h.list)
	v1.Post("/places", h.add)
	v1.Post("/places/refresh", h.refreshAll)
	v1.Post("/places/move", h.move)
	v1.Get("/places/:id", h.get)
	v1.Post("/places/:id/refresh", h.refresh)
	v1.Delete("/places/:id", h.delete)
	v1.Get("/events", h.events)
}

// addPlaceRequest is the body of POST /places.
type addPlaceRequest struct {
	City    string `json:"city" validate:"required"`
	Country string `json:"country" validate:"required,len=2"`
}

// moveRequest is the body of POST /places/move.
type moveRequest struct {
	From *int `json:"from" validate:"required,min=0"`
	To   *int `json:"to" validate:"required,min=0"`
}

type resultResponse struct {
	Outcome string         `json:"outcome"`
	PlaceID int64          `json:"placeId,string,omitempty"`
	Place   *weather.Place `json:"place,omitempty"`
	Status  weather.Status `json:"status,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func newResultResponse(res weather.Result) resultResponse {
	out := resultResponse{
		Outcome: res.Outcome.String(),
		Place:   res.Place,
		Status:  res.Status(),
	}
	if res.Place != nil {
		out.PlaceID = res.Place.ID
	} else if id, ok := repository.PlaceIDOf(res.Err); ok {
		out.PlaceID = id
	}
	if res.Err != nil {
		out.Reason = res.Err.Error()
	}
	return out
}

func (h *handlers) list(c *fiber.Ctx) error {
	return c.JSON(h.svc.Places())
}

func (h *handlers) get(c *fiber.Ctx) error {
	id, err := placeID(c)
	if err != nil {
		return err
	}
	p, ok := h.svc.Place(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("place %d not found", id))
	}
	return c.JSON(p)
}

func (h *handlers) add(c *fiber.Ctx) error {
	var req addPlaceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.command(c, fiber.StatusCreated, h.svc.FindAndAdd(req.City, req.Country))
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	id, err := placeID(c)
	if err != nil {
		return err
	}
	return h.command(c, fiber.StatusOK, h.svc.Refresh(id))
}

func (h *handlers) move(c *fiber.Ctx) error {
	var req moveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.command(c, fiber.StatusOK, h.svc.Move(*req.From, *req.To))
}

func (h *handlers) delete(c *fiber.Ctx) error {
	id, err := placeID(c)
	if err != nil {
		return err
	}
	return h.command(c, fiber.StatusOK, h.svc.Delete(id))
}

// refreshAll waits for every place and returns a per-place summary. Failed
// places do not fail the request.
func (h *handlers) refreshAll(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	results := make([]resultResponse, 0)
	var succeeded, partial, failed int
	ch := h.svc.RefreshAll()
	for {
		select {
		case <-ctx.Done():
			return fiber.NewError(fiber.StatusGatewayTimeout, "refresh did not complete in time")
		case res, ok := <-ch:
			if !ok {
				return c.JSON(fiber.Map{
					"succeeded": succeeded,
					"partial":   partial,
					"failed":    failed,
					"results":   results,
				})
			}
			switch res.Outcome {
			case weather.OutcomeSuccess:
				succeeded++
			case weather.OutcomePartial:
				partial++
			default:
				failed++
			}
			results = append(results, newResultResponse(res))
		}
	}
}

// command waits for a single command result. Success answers with okCode,
// partial success with 200 and the failure reason.
func (h *handlers) command(c *fiber.Ctx, okCode int, ch <-chan weather.Result) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	var res weather.Result
	select {
	case <-ctx.Done():
		return fiber.NewError(fiber.StatusGatewayTimeout, "command did not complete in time")
	case r, ok := <-ch:
		if !ok {
			return commandError(repository.ErrShuttingDown)
		}
		res = r
	}

	switch res.Outcome {
	case weather.OutcomeSuccess:
		return c.Status(okCode).JSON(newResultResponse(res))
	case weather.OutcomePartial:
		return c.Status(fiber.StatusOK).JSON(newResultResponse(res))
	default:
		return commandError(res.Err)
	}
}

// events streams change events as Server-Sent Events until the client goes
// away or the repository shuts down.
func (h *handlers) events(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ctx, cancel := context.WithCancel(context.Background())
	events := h.svc.Events(ctx)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

func placeID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "id must be an integer")
	}
	return id, nil
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
