package persistence

// Upsert/insert statements implementing the idempotency rules in spec
// section 4.8. Schema (spec section 6, "Downstream persistence schema
// (conceptual)"):
//   tokens(mint_address pk, ...)
//   trades(signature, program) pk, indexed by mint_address, block_time
//   pool_states(pool_address, slot) pk
//   bonding_curve_mappings(bonding_curve_address, mint_address) unique on both

const upsertTokenSQL = `
INSERT INTO tokens (
	mint_address, symbol, name, first_program, current_program, graduated,
	graduation_timestamp, latest_price_sol, latest_price_usd, latest_market_cap_usd,
	latest_virtual_sol_reserves, latest_virtual_token_reserves,
	latest_real_sol_reserves, latest_real_token_reserves,
	latest_progress, first_seen_slot, creator, bonding_curve_address
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (mint_address) DO UPDATE SET
	latest_price_sol = EXCLUDED.latest_price_sol,
	latest_price_usd = EXCLUDED.latest_price_usd,
	latest_market_cap_usd = EXCLUDED.latest_market_cap_usd,
	latest_virtual_sol_reserves = EXCLUDED.latest_virtual_sol_reserves,
	latest_virtual_token_reserves = EXCLUDED.latest_virtual_token_reserves,
	latest_real_sol_reserves = EXCLUDED.latest_real_sol_reserves,
	latest_real_token_reserves = EXCLUDED.latest_real_token_reserves,
	latest_progress = EXCLUDED.latest_progress,
	-- never downgrade graduated=true -> false, and never let a late BC
	-- trade flip current_program back off amm_pool once graduated (spec
	-- section 3 invariant: "graduated == true => current_program =
	-- amm_pool")
	current_program = CASE WHEN tokens.graduated THEN tokens.current_program ELSE EXCLUDED.current_program END,
	graduated = tokens.graduated OR EXCLUDED.graduated,
	graduation_timestamp = COALESCE(tokens.graduation_timestamp, EXCLUDED.graduation_timestamp),
	updated_at = now()
`

const insertTradeSQL = `
INSERT INTO trades (
	signature, program, mint_address, slot, block_time, trade_type, user_address,
	sol_amount, token_amount, price_sol, price_usd, market_cap_usd, volume_usd,
	pool_or_curve_address,
	virtual_sol_reserves, virtual_token_reserves, real_sol_reserves, real_token_reserves
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (signature, program) DO NOTHING
`

const insertPoolStateSQL = `
INSERT INTO pool_states (
	pool_address, slot, mint_address,
	virtual_sol_reserves, virtual_token_reserves, real_sol_reserves, real_token_reserves, pool_open
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (pool_address, slot) DO NOTHING
`

const upsertGraduationSQL = `
INSERT INTO bonding_curve_mappings (bonding_curve_address, mint_address, graduation_timestamp, reason)
VALUES ($1,$2,$3,$4)
ON CONFLICT (bonding_curve_address, mint_address) DO UPDATE SET
	graduation_timestamp = bonding_curve_mappings.graduation_timestamp,
	reason = bonding_curve_mappings.reason
`
