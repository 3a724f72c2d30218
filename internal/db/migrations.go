package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'slot_source') THEN
			CREATE TYPE slot_source AS ENUM ('camera', 'manual');
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'booking_status') THEN
			CREATE TYPE booking_status AS ENUM ('ACTIVE', 'COMPLETED', 'CANCELLED');
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'camera_source_type') THEN
			CREATE TYPE camera_source_type AS ENUM ('webcam', 'ip_camera', 'file', 'image');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS lots (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		owner_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		address TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		price_per_hour DOUBLE PRECISION NOT NULL CHECK (price_per_hour >= 0),
		total_slots INTEGER NOT NULL CHECK (total_slots >= 1),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		camera_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		camera_source TEXT NOT NULL DEFAULT '',
		camera_source_type camera_source_type NOT NULL DEFAULT 'file',
		camera_frame_ref TEXT NOT NULL DEFAULT '',
		camera_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.15 CHECK (camera_threshold >= 0 AND camera_threshold <= 1),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_lots_owner ON lots (owner_id);`,
	`CREATE INDEX IF NOT EXISTS idx_lots_active ON lots (is_active);`,
	`CREATE TABLE IF NOT EXISTS parking_slots (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		lot_id UUID NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
		slot_number INTEGER NOT NULL CHECK (slot_number >= 1),
		is_occupied BOOLEAN NOT NULL DEFAULT FALSE,
		source slot_source NOT NULL DEFAULT 'manual',
		region JSONB,
		frame_width INTEGER,
		frame_height INTEGER,
		detection_confidence DOUBLE PRECISION,
		detection_raw_signal DOUBLE PRECISION,
		detected_at TIMESTAMPTZ,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_lot_number ON parking_slots (lot_id, slot_number);`,
	`CREATE INDEX IF NOT EXISTS idx_slots_lot_vacant ON parking_slots (lot_id) WHERE is_occupied = FALSE;`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		customer_id UUID NOT NULL,
		lot_id UUID NOT NULL REFERENCES lots(id),
		slot_id UUID NOT NULL REFERENCES parking_slots(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		total_price DOUBLE PRECISION NOT NULL CHECK (total_price >= 0),
		status booking_status NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_customer_status ON bookings (customer_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_lot_status ON bookings (lot_id, status);`,
	// Storage-level backstop for the one-active-booking-per-slot invariant.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_slot_active ON bookings (slot_id) WHERE status = 'ACTIVE';`,
	`CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_lots_updated_at') THEN
			CREATE TRIGGER trg_lots_updated_at
				BEFORE UPDATE ON lots
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_bookings_updated_at') THEN
			CREATE TRIGGER trg_bookings_updated_at
				BEFORE UPDATE ON bookings
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
