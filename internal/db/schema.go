package db

import (
	"context"
	"fmt"
)

// Generated "active" columns are NULL outside the blocking statuses, so the
// unique keys on them only bind active rows (MySQL has no partial indexes).
var schema = []struct {
	table string
	ddl   string
}{
	{"users", `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(120) NOT NULL,
	email VARCHAR(190) NOT NULL,
	phone VARCHAR(30) NOT NULL DEFAULT '',
	password_hash VARCHAR(255) NOT NULL,
	role VARCHAR(20) NOT NULL DEFAULT 'user',
	status VARCHAR(20) NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"vehicles", `
CREATE TABLE IF NOT EXISTS vehicles (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	plate_no VARCHAR(20) NOT NULL,
	seat_layout JSON NOT NULL,
	active TINYINT(1) NOT NULL DEFAULT 1,
	UNIQUE KEY uq_vehicles_plate (plate_no)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"trips", `
CREATE TABLE IF NOT EXISTS trips (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	route_code VARCHAR(20) NOT NULL,
	origin VARCHAR(120) NOT NULL,
	destination VARCHAR(120) NOT NULL,
	vehicle_id BIGINT NOT NULL,
	depart_at DATETIME NOT NULL,
	base_fare BIGINT NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	KEY idx_trips_depart (depart_at),
	CONSTRAINT fk_trips_vehicle FOREIGN KEY (vehicle_id) REFERENCES vehicles (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"bookings", `
CREATE TABLE IF NOT EXISTS bookings (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	trip_id BIGINT NOT NULL,
	user_id BIGINT NULL,
	seat_number VARCHAR(10) NOT NULL,
	status VARCHAR(20) NOT NULL,
	fare BIGINT NOT NULL,
	reference VARCHAR(40) NOT NULL,
	passenger_name VARCHAR(120) NOT NULL,
	passenger_phone VARCHAR(30) NOT NULL,
	passenger_age INT NOT NULL DEFAULT 0,
	passenger_sex VARCHAR(10) NOT NULL DEFAULT '',
	passenger_id_number VARCHAR(40) NOT NULL DEFAULT '',
	hold_expires_at DATETIME NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	active_seat VARCHAR(10) GENERATED ALWAYS AS (
		CASE WHEN status IN ('pending_payment', 'confirmed', 'checked_in') THEN seat_number END
	) STORED,
	UNIQUE KEY uq_bookings_reference (reference),
	UNIQUE KEY uq_bookings_trip_active_seat (trip_id, active_seat),
	KEY idx_bookings_trip_status (trip_id, status),
	CONSTRAINT fk_bookings_trip FOREIGN KEY (trip_id) REFERENCES trips (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"parcels", `
CREATE TABLE IF NOT EXISTS parcels (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	ref_code VARCHAR(20) NOT NULL,
	sender_name VARCHAR(120) NOT NULL,
	sender_phone VARCHAR(30) NOT NULL,
	receiver_name VARCHAR(120) NOT NULL,
	receiver_phone VARCHAR(30) NOT NULL,
	origin_name VARCHAR(120) NOT NULL,
	destination_name VARCHAR(120) NOT NULL,
	price BIGINT NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'pending_payment',
	payment_status VARCHAR(20) NOT NULL DEFAULT 'unpaid',
	created_by BIGINT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uq_parcels_ref (ref_code)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"payments", `
CREATE TABLE IF NOT EXISTS payments (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	booking_id BIGINT NULL,
	parcel_id BIGINT NULL,
	user_id BIGINT NULL,
	amount BIGINT NOT NULL,
	payment_method VARCHAR(30) NOT NULL,
	transaction_id VARCHAR(100) NULL,
	receipt_number VARCHAR(40) NOT NULL DEFAULT '',
	payer_phone VARCHAR(30) NOT NULL DEFAULT '',
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	result_code VARCHAR(20) NOT NULL DEFAULT '',
	result_desc VARCHAR(255) NOT NULL DEFAULT '',
	paid_at DATETIME NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	pending_booking BIGINT GENERATED ALWAYS AS (CASE WHEN status = 'pending' THEN booking_id END) STORED,
	pending_parcel BIGINT GENERATED ALWAYS AS (CASE WHEN status = 'pending' THEN parcel_id END) STORED,
	UNIQUE KEY uq_payments_transaction (transaction_id),
	UNIQUE KEY uq_payments_pending_booking (pending_booking),
	UNIQUE KEY uq_payments_pending_parcel (pending_parcel),
	KEY idx_payments_booking (booking_id),
	KEY idx_payments_parcel (parcel_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"tickets", `
CREATE TABLE IF NOT EXISTS tickets (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	booking_id BIGINT NOT NULL,
	code VARCHAR(40) NOT NULL,
	issued_at DATETIME NOT NULL,
	UNIQUE KEY uq_tickets_booking (booking_id),
	UNIQUE KEY uq_tickets_code (code),
	CONSTRAINT fk_tickets_booking FOREIGN KEY (booking_id) REFERENCES bookings (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
}

// EnsureSchema creates missing tables in dependency order.
func EnsureSchema(ctx context.Context, q DBTX) error {
	for _, t := range schema {
		if HasTable(ctx, q, t.table) {
			continue
		}
		if _, err := q.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.table, err)
		}
	}
	return nil
}
