package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/middleware"
)

// locationsMaxAge is how long clients may cache the location list.
const locationsMaxAge = 3600

type Handler struct {
	catalog  *Catalog
	services *ServiceCatalog
}

func NewHandler(catalog *Catalog, services *ServiceCatalog) *Handler {
	return &Handler{catalog: catalog, services: services}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	cache := middleware.CacheControl(locationsMaxAge)
	api.GET("/locations", h.ListLocations, cache)
	api.GET("/locations/:id", h.GetLocation, cache)

	api.GET("/services", h.ListServices)
	api.GET("/services/:id", h.GetService)
	api.POST("/services", h.CreateService, auth.RequireRole(auth.SuperAdmin))
}

type listLocationsResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Data    []Location `json:"data"`
}

func (h *Handler) ListLocations(c echo.Context) error {
	var f LocationFilter
	f.City = c.QueryParam("city")
	if t := c.QueryParam("tier"); t != "" {
		tier, err := ParseTier(t)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Tier = tier
	}
	locs := h.catalog.Locations(f)
	return c.JSON(http.StatusOK, listLocationsResponse{Success: true, Count: len(locs), Data: locs})
}

func (h *Handler) GetLocation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	loc, err := h.catalog.Location(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "location not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": loc})
}

func (h *Handler) ListServices(c echo.Context) error {
	f := ServiceFilter{Category: c.QueryParam("category"), Mode: Mode(c.QueryParam("mode"))}
	list, err := h.services.ListServices(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "count": len(list), "data": list})
}

func (h *Handler) GetService(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	svc, err := h.services.GetService(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": svc})
}

func (h *Handler) CreateService(c echo.Context) error {
	// New services are bookable unless the body says otherwise.
	svc := Service{Active: true}
	if err := c.Bind(&svc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.services.CreateService(c.Request().Context(), &svc); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "data": svc})
}
