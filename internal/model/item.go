package model

import (
    "errors"
    "strings"
)

// Item represents a product record held by the item store.  Description
// and Tax are optional and serialize as null when absent.
//
// Fields:
//  Name        – non-empty product name.
//  Description – optional free text.
//  Price       – product price.
//  Tax         – optional tax amount.
type Item struct {
    Name        string   `json:"name"`
    Description *string  `json:"description"`
    Price       float64  `json:"price"`
    Tax         *float64 `json:"tax"`
}

// Validation errors returned by ItemInput.Validate.
var (
    ErrNameRequired  = errors.New("name is required")
    ErrPriceRequired = errors.New("price is required")
)

// ItemInput is the request body accepted by the create and update
// endpoints.  Required fields are pointers so a missing key can be told
// apart from a zero value.
type ItemInput struct {
    Name        *string  `json:"name"`
    Description *string  `json:"description"`
    Price       *float64 `json:"price"`
    Tax         *float64 `json:"tax"`
}

// Validate checks that the required fields are present.
func (in ItemInput) Validate() error {
    if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
        return ErrNameRequired
    }
    if in.Price == nil {
        return ErrPriceRequired
    }
    return nil
}

// Item converts a validated input into an Item.  Call Validate first.
func (in ItemInput) Item() Item {
    return Item{
        Name:        *in.Name,
        Description: in.Description,
        Price:       *in.Price,
        Tax:         in.Tax,
    }
}
