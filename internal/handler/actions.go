package handler

import (
	"net/http"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/domain/checkout"
	"github.com/xenking/checkout-gateway/internal/validation"
)

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	raw, ok := r.URL.Query()["id"]
	if !ok || len(raw) == 0 {
		h.fail(w, r, apperr.Invalid(validation.FieldProductID, "product id not specified"))
		return
	}
	id, err := validation.ProductID(raw[0])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	product, err := h.checkout.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, "", product)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	receipt, err := h.checkout.CreateOrder(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, checkout.PaymentInitiatedMessage, receipt)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.checkout.HandleWebhook(r.Context(), body, r.Header.Get(h.signatureHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg := "Webhook processed"
	if !result.Applied {
		msg = "Webhook acknowledged"
	}
	h.ok(w, msg, result)
}
