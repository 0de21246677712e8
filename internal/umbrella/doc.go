// Package umbrella reads umbrella-sampling trajectories and describes the
// harmonic restraints they were sampled under.
//
// Input layout, relative to a data directory:
//
//	centers.dat            one line per umbrella: chi0 [deg] K [kJ/mol/rad^2] [T K]
//	prod<k>_dihed.xvg      time chi [deg]
//	prod<k>_energies.xvg   time E_restraint E_total (read only when temperatures differ)
//
// Lines beginning with '#' or '@' are xvg headers and are skipped.
//
// A [Dataset] holds one torsion series per umbrella and knows how to
// evaluate every sample in every umbrella's biased ensemble, which is the
// input shape the mbar package needs:
//
//	ds, _ := umbrella.Load(os.DirFS("data"), umbrella.DefaultOptions())
//	u := ds.ReducedEnergies() // K x N
//	chi, u0 := ds.Samples()
package umbrella
