// Command seed populates the marketplace database with fake listings.
package main

import (
	"context"
	"flag"
	"log"

	"marketplace/internal/bootstrap"
	"marketplace/internal/config"
	"marketplace/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	numPosts := flag.Int("posts", defaults.Posts, "Number of listings to create")
	numComments := flag.Int("comments", defaults.Comments, "Maximum comments per listing")
	numOwners := flag.Int("owners", defaults.Owners, "Number of distinct owner IDs")
	maxPhotos := flag.Int("photos", defaults.MaxPhotos, "Maximum photos per listing")
	shouldClean := flag.Bool("clean", false, "Remove existing listings, comments and photos first")
	randSeed := flag.Int64("seed", 0, "Faker seed (0 picks a random one)")
	flag.Parse()

	log.Println("🌱 Marketplace Seeder")
	log.Printf("Target: %d listings, <=%d comments each, %d owners, clean=%v\n",
		*numPosts, *numComments, *numOwners, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	s := seed.NewSeeder(rt.DB, rt.PostStore(cfg), rt.CommentStore(), rt.Images, *randSeed, rt.Logger)

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	res, err := s.Run(ctx, seed.Options{
		Posts:     *numPosts,
		Comments:  *numComments,
		Owners:    *numOwners,
		MaxPhotos: *maxPhotos,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Created %d listings, %d photos, %d comments", res.Posts, res.Photos, res.Comments)
}
