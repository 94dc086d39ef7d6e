package provision

import (
	"context"
	"fmt"
	"log/slog"

	"nomadly/internal/dnsapi"
	"nomadly/internal/order"
	"nomadly/internal/registrar"
	"nomadly/internal/repo"
)

// Config tunes provisioning.
type Config struct {
	// DefaultARecord, when set, is the IPv4 address a managed zone's apex is
	// pointed at after creation.
	DefaultARecord string
}

// Provisioner finalizes a paid order: registrar customer creation, DNS zone
// setup and domain registration, with active rollback of the zone when
// registration fails after the zone was created.
type Provisioner struct {
	registrar *registrar.Client
	dns       *dnsapi.Client
	orders    *order.Engine
	logger    *slog.Logger
	cfg       Config
}

// New creates a provisioner.
func New(reg *registrar.Client, dns *dnsapi.Client, orders *order.Engine, logger *slog.Logger, cfg Config) *Provisioner {
	return &Provisioner{
		registrar: reg,
		dns:       dns,
		orders:    orders,
		logger:    logger.With("component", "provision"),
		cfg:       cfg,
	}
}

// Finalize provisions the domain for a paid order and marks the order
// completed. On failure the order stays in payment monitoring so the user's
// payment credit is preserved and the attempt can be retried.
func (p *Provisioner) Finalize(ctx context.Context, ord *repo.Order) (order.RegistrationResult, error) {
	var result order.RegistrationResult

	email := ""
	if ord.Email != nil {
		email = *ord.Email
	}
	customer, err := p.registrar.CreateCustomer(ctx, registrar.Contact{Email: email})
	if err != nil {
		return result, fmt.Errorf("create customer: %w", err)
	}

	nameservers := ord.Nameservers
	var zoneID string
	if ord.DNSMode == nil || *ord.DNSMode == order.DNSModeManaged {
		zone, err := p.dns.CreateZone(ctx, ord.Domain)
		if err != nil {
			return result, fmt.Errorf("create zone: %w", err)
		}
		zoneID = zone.ID
		nameservers = zone.NameServers
		p.logger.Info("dns zone created", "order_id", ord.ID, "domain", ord.Domain, "zone_id", zoneID)

		if p.cfg.DefaultARecord != "" {
			// point the apex at the default host; failure is not worth
			// aborting the registration over
			if _, err := p.dns.CreateRecord(ctx, zoneID, "A", ord.Domain, p.cfg.DefaultARecord, 0); err != nil {
				p.logger.Warn("failed creating default record", "order_id", ord.ID, "zone_id", zoneID, "error", err)
			}
		}
	}

	registrationID, err := p.registrar.RegisterDomain(ctx, ord.Domain, customer, nameservers)
	if err != nil {
		if zoneID != "" {
			// roll back the zone so a failed registration leaves nothing behind
			if delErr := p.dns.DeleteZone(ctx, zoneID); delErr != nil {
				p.logger.Error("zone rollback failed", "order_id", ord.ID, "zone_id", zoneID, "error", delErr)
			} else {
				p.logger.Info("dns zone rolled back", "order_id", ord.ID, "zone_id", zoneID)
			}
		}
		return result, fmt.Errorf("register domain: %w", err)
	}

	result = order.RegistrationResult{RegistrationID: registrationID, ZoneID: zoneID}
	if err := p.orders.Complete(ctx, ord.ID, result); err != nil {
		return result, fmt.Errorf("complete order: %w", err)
	}

	p.logger.Info("domain provisioned",
		"order_id", ord.ID, "domain", ord.Domain,
		"registration_id", registrationID, "zone_id", zoneID)
	return result, nil
}
