package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
	"github.com/i474232898/climate-region-aggregation/internal/common"
	"github.com/i474232898/climate-region-aggregation/internal/log"
	"github.com/i474232898/climate-region-aggregation/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *climate.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/regions", func(c *fiber.Ctx) error {
		regions, err := service.Regions(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return respond(c, fiber.Map{
			"regions": regions,
			"global":  globalRegion(),
		})
	})

	v1.Post("/regional-means", func(c *fiber.Ctx) error {
		var field climate.Field
		if err := decodeField(c, &field); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid field body: "+err.Error())
		}
		if err := validate.Struct(field); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result, err := service.Compute(c.UserContext(), &field)
		if err != nil {
			return toHTTPError(err)
		}
		return respond(c, result)
	})

	v1.Get("/datasets", func(c *fiber.Ctx) error {
		return respond(c, fiber.Map{"datasets": service.Datasets()})
	})

	v1.Post("/datasets/:name/recompute", func(c *fiber.Ctx) error {
		snapshot, err := service.ComputeAndStore(c.UserContext(), c.Params("name"))
		if err != nil {
			return toHTTPError(err)
		}
		c.Status(fiber.StatusCreated)
		return respond(c, snapshot)
	})

	v1.Get("/datasets/:name/latest", func(c *fiber.Ctx) error {
		snapshot, err := service.GetLatest(c.Params("name"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no regional means for requested dataset")
			}
			return toHTTPError(err)
		}

		q := strings.TrimSpace(c.Query("region"))
		if q == "" {
			return respond(c, snapshot)
		}

		region, err := resolveRegion(c, service, q)
		if err != nil {
			return err
		}
		series, ok := snapshot.Result.Series(region.Number)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "region not present in snapshot")
		}
		return respond(c, regionSeries{
			ID:         snapshot.ID,
			Dataset:    snapshot.Dataset,
			ComputedAt: snapshot.ComputedAt,
			Region:     region,
			Units:      snapshot.Result.Units,
			Dims:       withoutMask(snapshot.Result.Dims),
			Values:     series,
			Coords:     snapshot.Result.Coords,
		})
	})

	v1.Get("/datasets/:name/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshots, err := service.GetRange(req.Dataset, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no regional means for requested range")
			}
			return toHTTPError(err)
		}

		return respond(c, fiber.Map{
			"dataset":   req.Dataset,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snapshots,
		})
	})
}

// regionSeries is the latest snapshot reduced to a single mask entry.
type regionSeries struct {
	ID         string                    `json:"id" msgpack:"id"`
	Dataset    string                    `json:"dataset" msgpack:"dataset"`
	ComputedAt time.Time                 `json:"computedAt" msgpack:"computed_at"`
	Region     climate.RegionInfo        `json:"region" msgpack:"region"`
	Units      string                    `json:"units,omitempty" msgpack:"units,omitempty"`
	Dims       []string                  `json:"dims" msgpack:"dims"`
	Values     climate.Values            `json:"values" msgpack:"values"`
	Coords     map[string]climate.Values `json:"coords,omitempty" msgpack:"coords,omitempty"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Dataset string    `validate:"required"`
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Dataset = c.Params("name")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

func decodeField(c *fiber.Ctx, field *climate.Field) error {
	if common.IsMsgpack(c.Get(fiber.HeaderContentType)) {
		return msgpack.Unmarshal(c.Body(), field)
	}
	return c.BodyParser(field)
}

// respond writes v as MessagePack when the client asks for it, JSON otherwise.
func respond(c *fiber.Ctx, v interface{}) error {
	if !common.IsMsgpack(c.Get(fiber.HeaderAccept)) {
		return c.JSON(v)
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, common.MIMEMsgpack)
	return c.Send(b)
}

func globalRegion() climate.RegionInfo {
	return climate.RegionInfo{Number: climate.GlobalCode, Abbrev: climate.GlobalName, Name: climate.GlobalName}
}

// resolveRegion matches q against GLOBAL and the classifier's regions by
// number, abbreviation or name.
func resolveRegion(c *fiber.Ctx, service *climate.Service, q string) (climate.RegionInfo, error) {
	if strings.EqualFold(q, climate.GlobalName) || q == strconv.Itoa(climate.GlobalCode) {
		return globalRegion(), nil
	}
	regions, err := service.Regions(c.UserContext())
	if err != nil {
		return climate.RegionInfo{}, toHTTPError(err)
	}
	n, numErr := strconv.Atoi(q)
	for _, r := range regions {
		if (numErr == nil && r.Number == n) || strings.EqualFold(r.Abbrev, q) || strings.EqualFold(r.Name, q) {
			return r, nil
		}
	}
	return climate.RegionInfo{}, fiber.NewError(fiber.StatusNotFound, "unknown region "+q)
}

func withoutMask(dims []string) []string {
	out := make([]string, 0, len(dims))
	for _, d := range dims {
		if d != climate.MaskDim {
			out = append(out, d)
		}
	}
	return out
}

// toHTTPError maps service errors onto HTTP status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, climate.ErrUnknownDataset):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, climate.ErrNoGridcellAxis),
		errors.Is(err, climate.ErrMissingCoordinate),
		errors.Is(err, climate.ErrMisaligned),
		errors.Is(err, climate.ErrShapeMismatch):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, climate.ErrClassification):
		log.Warnw("region classifier failed", "error", err)
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	log.Errorw("request failed", "error", err)
	return fiber.NewError(fiber.StatusInternalServerError, "failed to compute regional means")
}

// ErrorHandler renders every handler error as a JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}
