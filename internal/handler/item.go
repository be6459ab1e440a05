package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/echo-cicd-demo/internal/model"
    q "github.com/iliyamo/echo-cicd-demo/internal/queue"
    "github.com/iliyamo/echo-cicd-demo/internal/repository"
    "github.com/iliyamo/echo-cicd-demo/internal/service"
)

// Response details returned to clients.
const (
    detailItemExists   = "商品已存在"
    detailItemNotFound = "商品不存在"
    detailItemDeleted  = "商品已删除"
)

// ItemHandler exposes CRUD over the item store.  Successful writes are
// announced through Events; a failed publish never changes the response.
type ItemHandler struct {
    Store  *repository.ItemStore
    Events service.EventPublisher
    Env    string
}

// NewItemHandler constructs an ItemHandler and panics if store is nil.  A
// nil publisher disables events.
func NewItemHandler(store *repository.ItemStore, events service.EventPublisher, env string) *ItemHandler {
    if store == nil {
        panic("nil store passed to NewItemHandler")
    }
    if events == nil {
        events = service.NopPublisher{}
    }
    return &ItemHandler{Store: store, Events: events, Env: env}
}

// ListResponse is the body of GET /api/items.
type ListResponse struct {
    Total int                  `json:"total"`
    Items map[int64]model.Item `json:"items"`
}

// DeleteResponse is the body of DELETE /api/items/:item_id.
type DeleteResponse struct {
    Message string `json:"message"`
    ItemID  int64  `json:"item_id"`
}

func detail(c echo.Context, status int, msg string) error {
    return c.JSON(status, map[string]string{"detail": msg})
}

// itemID parses the :item_id path parameter.
func itemID(c echo.Context) (int64, error) {
    return strconv.ParseInt(c.Param("item_id"), 10, 64)
}

// bindItem decodes and validates the request body.
func bindItem(c echo.Context) (model.Item, error) {
    var in model.ItemInput
    if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
        return model.Item{}, errors.New("invalid request body")
    }
    if err := in.Validate(); err != nil {
        return model.Item{}, err
    }
    return in.Item(), nil
}

func (h *ItemHandler) publish(c echo.Context, typ string, id int64, item *model.Item) {
    ev := service.NewItemEvent(typ, id, item, h.Env)
    if err := h.Events.Publish(c.Request().Context(), ev); err != nil {
        log.Warnf("items: %s event for item %d not published: %v", typ, id, err)
    }
}

// CreateItem handles POST /api/items/:item_id and echoes the stored item.
func (h *ItemHandler) CreateItem(c echo.Context) error {
    id, err := itemID(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, "invalid item_id")
    }
    item, err := bindItem(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, err.Error())
    }
    created, err := h.Store.Create(c.Request().Context(), id, item)
    if errors.Is(err, repository.ErrItemExists) {
        return detail(c, http.StatusBadRequest, detailItemExists)
    }
    if err != nil {
        return err
    }
    h.publish(c, q.ItemCreated, id, &created)
    return c.JSON(http.StatusOK, created)
}

// GetItem handles GET /api/items/:item_id.
func (h *ItemHandler) GetItem(c echo.Context) error {
    id, err := itemID(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, "invalid item_id")
    }
    item, err := h.Store.Get(c.Request().Context(), id)
    if errors.Is(err, repository.ErrItemNotFound) {
        return detail(c, http.StatusNotFound, detailItemNotFound)
    }
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, item)
}

// ListItems handles GET /api/items.  The whole store is returned.
func (h *ItemHandler) ListItems(c echo.Context) error {
    items := h.Store.List(c.Request().Context())
    return c.JSON(http.StatusOK, ListResponse{Total: len(items), Items: items})
}

// UpdateItem handles PUT /api/items/:item_id.  The stored record is
// replaced as a whole; unknown ids are not inserted.
func (h *ItemHandler) UpdateItem(c echo.Context) error {
    id, err := itemID(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, "invalid item_id")
    }
    item, err := bindItem(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, err.Error())
    }
    updated, err := h.Store.Update(c.Request().Context(), id, item)
    if errors.Is(err, repository.ErrItemNotFound) {
        return detail(c, http.StatusNotFound, detailItemNotFound)
    }
    if err != nil {
        return err
    }
    h.publish(c, q.ItemUpdated, id, &updated)
    return c.JSON(http.StatusOK, updated)
}

// DeleteItem handles DELETE /api/items/:item_id.
func (h *ItemHandler) DeleteItem(c echo.Context) error {
    id, err := itemID(c)
    if err != nil {
        return detail(c, http.StatusUnprocessableEntity, "invalid item_id")
    }
    if err := h.Store.Delete(c.Request().Context(), id); err != nil {
        if errors.Is(err, repository.ErrItemNotFound) {
            return detail(c, http.StatusNotFound, detailItemNotFound)
        }
        return err
    }
    h.publish(c, q.ItemDeleted, id, nil)
    return c.JSON(http.StatusOK, DeleteResponse{Message: detailItemDeleted, ItemID: id})
}
